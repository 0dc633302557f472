package lock

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"studylock/internal/db"
	"studylock/internal/models"
	"studylock/internal/notify"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, msg notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *fakeNotifier) ofKind(kind notify.Kind) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, msg := range n.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

type testEnv struct {
	database *db.DB
	users    *db.UserRepository
	catalog  *db.CatalogRepository
	clock    *fakeClock
	notifier *fakeNotifier
	engine   *Engine
	sessions *SessionRecorder
	aars     *AarRecorder
	subject  *models.Subject
	admin    Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	env := &testEnv{
		database: database,
		users:    db.NewUserRepository(database),
		catalog:  db.NewCatalogRepository(database),
		clock:    &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		notifier: &fakeNotifier{},
	}
	env.engine = NewEngine(env.users, env.catalog, env.notifier, WithClock(env.clock.Now))
	env.sessions = NewSessionRecorder(env.engine, db.NewSessionRepository(database))
	env.aars = NewAarRecorder(env.engine, db.NewAarRepository(database))

	ctx := context.Background()
	dep, err := env.catalog.CreateDepartment(ctx, "CS", "Computer Science")
	if err != nil {
		t.Fatalf("CreateDepartment() error = %v", err)
	}
	env.subject, err = env.catalog.CreateSubject(ctx, dep.ID, "CS101", "Algorithms", "")
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}

	admin := env.createUser(t, "admin@example.com", models.RoleAdmin)
	env.admin = Principal{UserID: admin.ID, IsAdmin: true}

	return env
}

func (env *testEnv) createUser(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()

	u := &models.User{Email: email, Name: strings.Split(email, "@")[0], PasswordHash: "hash", Role: role}
	if err := env.users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return u
}

func (env *testEnv) student(t *testing.T, email string) Principal {
	t.Helper()
	return Principal{UserID: env.createUser(t, email, models.RoleStudent).ID}
}

func (env *testEnv) reload(t *testing.T, id string) *models.User {
	t.Helper()

	u, err := env.users.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	return u
}

func (env *testEnv) declare(t *testing.T, p Principal) {
	t.Helper()

	if _, err := env.engine.DeclareSubject(context.Background(), p, env.subject.ID); err != nil {
		t.Fatalf("DeclareSubject() error = %v", err)
	}
}

// completeSessions runs n sessions of the given length back to back.
func (env *testEnv) completeSessions(t *testing.T, p Principal, n int, length time.Duration) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		s, err := env.sessions.Start(ctx, p, 30, "focus")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		env.clock.Advance(length)
		if _, err := env.sessions.Complete(ctx, p, s.ID, nil); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
	}
}

func (env *testEnv) submitAars(t *testing.T, p Principal, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		if _, err := env.aars.Submit(context.Background(), p, words(7), words(7), words(6)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func assertInvariants(t *testing.T, u *models.User) {
	t.Helper()

	if err := validate(u.LockFields); err != nil {
		t.Fatalf("lock fields %+v violate invariants: %v", u.LockFields, err)
	}
	if u.SessionCount < 0 || u.AarCount < 0 || u.TotalStudyMinutes < 0 {
		t.Fatalf("negative counters: %+v", u)
	}
}

func TestDeclareSubject(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()
	t0 := env.clock.Now()

	u, err := env.engine.DeclareSubject(ctx, p, env.subject.ID)
	if err != nil {
		t.Fatalf("DeclareSubject() error = %v", err)
	}
	if u.State != models.LockStateLocked || u.GetPrimarySubjectID() != env.subject.ID || !u.OnboardingComplete {
		t.Fatalf("DeclareSubject() = %+v, want locked to %s", u.LockFields, env.subject.ID)
	}

	stored := env.reload(t, p.UserID)
	assertInvariants(t, stored)
	if !stored.LockedAt.Equal(t0) || !stored.LockExpiresAt.Equal(t0.Add(7*day)) {
		t.Fatalf("lock window = %v..%v, want %v..%v", stored.LockedAt, stored.LockExpiresAt, t0, t0.Add(7*day))
	}

	// Declaring again while locked is rejected without touching the lock.
	env.clock.Advance(time.Hour)
	if _, err := env.engine.DeclareSubject(ctx, p, env.subject.ID); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("DeclareSubject() while locked error = %v, want ErrAlreadyLocked", err)
	}
	after := env.reload(t, p.UserID)
	if !after.LockedAt.Equal(t0) || after.LockVersion != stored.LockVersion {
		t.Fatalf("lock mutated by rejected declare: %+v", after.LockFields)
	}
}

func TestDeclareSubjectRejectsUnknownOrInactiveSubject(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()

	if _, err := env.engine.DeclareSubject(ctx, p, "sub_missing"); !errors.Is(err, ErrSubjectNotFound) {
		t.Fatalf("DeclareSubject(missing) error = %v, want ErrSubjectNotFound", err)
	}

	off := false
	if _, err := env.catalog.UpdateSubject(ctx, env.subject.ID, nil, nil, &off); err != nil {
		t.Fatalf("UpdateSubject() error = %v", err)
	}
	if _, err := env.engine.DeclareSubject(ctx, p, env.subject.ID); !errors.Is(err, ErrSubjectNotFound) {
		t.Fatalf("DeclareSubject(inactive) error = %v, want ErrSubjectNotFound", err)
	}

	if u := env.reload(t, p.UserID); u.State != models.LockStateUnassigned {
		t.Fatalf("State = %q, want unassigned", u.State)
	}

	if _, err := env.engine.DeclareSubject(ctx, Principal{UserID: "usr_missing"}, env.subject.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("DeclareSubject(unknown user) error = %v, want ErrUserNotFound", err)
	}
}

func TestDeclareSubjectConcurrentExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")

	const callers = 5
	var (
		wg   sync.WaitGroup
		errs = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.DeclareSubject(context.Background(), p, env.subject.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyLocked):
		default:
			t.Fatalf("DeclareSubject() #%d error = %v, want nil or ErrAlreadyLocked", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("successful declares = %d, want 1", wins)
	}

	u := env.reload(t, p.UserID)
	assertInvariants(t, u)
	if u.LockVersion != 1 {
		t.Fatalf("LockVersion = %d, want 1", u.LockVersion)
	}
}

func TestUnlockLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()
	env.declare(t, p)

	// Day 6: not eligible, queued for admins.
	env.clock.Advance(6 * day)
	res, err := env.engine.RequestUnlock(ctx, p)
	if err != nil {
		t.Fatalf("RequestUnlock() error = %v", err)
	}
	if res.Unlocked {
		t.Fatal("RequestUnlock() unlocked at day 6")
	}
	if res.Status.DaysElapsed != 6 || res.Status.SessionCount != 0 || res.Status.AarCount != 0 {
		t.Fatalf("progress = %+v, want 6 days and no activity", res.Status)
	}

	u := env.reload(t, p.UserID)
	assertInvariants(t, u)
	if u.State != models.LockStateUnlockPending || !u.UnlockRequested {
		t.Fatalf("lock fields = %+v, want unlock pending", u.LockFields)
	}
	requested := env.notifier.ofKind(notify.KindUnlockRequested)
	if len(requested) != 1 || len(requested[0].Recipients) != 1 || requested[0].Recipients[0] != "admin@example.com" {
		t.Fatalf("unlock_requested notifications = %+v, want one to the admin", requested)
	}

	// Sessions and AARs during the pending period, reaching day 7 exactly.
	env.completeSessions(t, p, 5, 10*time.Minute)
	env.submitAars(t, p, 3)
	env.clock.Advance(day - 50*time.Minute)

	res, err = env.engine.RequestUnlock(ctx, p)
	if err != nil {
		t.Fatalf("RequestUnlock() error = %v", err)
	}
	if !res.Unlocked {
		t.Fatalf("RequestUnlock() = %+v, want unlocked", res)
	}

	u = env.reload(t, p.UserID)
	assertInvariants(t, u)
	if u.State != models.LockStateUnassigned || u.PrimarySubjectID != nil || u.UnlockRequested || u.OnboardingComplete {
		t.Fatalf("lock fields = %+v, want cleared", u.LockFields)
	}
	if u.SessionCount != 5 || u.AarCount != 3 || u.TotalStudyMinutes != 50 {
		t.Fatalf("counters = %d/%d/%d, want 5/3/50 kept after self-service unlock", u.SessionCount, u.AarCount, u.TotalStudyMinutes)
	}
	if got := env.notifier.ofKind(notify.KindAutoUnlocked); len(got) != 1 {
		t.Fatalf("auto_unlocked notifications = %d, want 1", len(got))
	}
}

func TestRequestUnlockWhilePendingRefreshesWithoutRenotifying(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()
	env.declare(t, p)

	env.clock.Advance(2 * day)
	if _, err := env.engine.RequestUnlock(ctx, p); err != nil {
		t.Fatalf("RequestUnlock() error = %v", err)
	}
	first := env.reload(t, p.UserID).UnlockRequestedAt

	env.clock.Advance(day)
	if _, err := env.engine.RequestUnlock(ctx, p); err != nil {
		t.Fatalf("RequestUnlock() again error = %v", err)
	}

	u := env.reload(t, p.UserID)
	if u.State != models.LockStateUnlockPending {
		t.Fatalf("State = %q, want unlock_pending", u.State)
	}
	if !u.UnlockRequestedAt.After(*first) {
		t.Fatalf("UnlockRequestedAt = %v, want after %v", u.UnlockRequestedAt, first)
	}
	if got := env.notifier.ofKind(notify.KindUnlockRequested); len(got) != 1 {
		t.Fatalf("unlock_requested notifications = %d, want 1", len(got))
	}

	pending, err := env.users.FindByLockState(ctx, models.LockStateUnlockPending)
	if err != nil {
		t.Fatalf("FindByLockState() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending requests = %d, want 1", len(pending))
	}
}

func TestRequestUnlockWithoutLock(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")

	if _, err := env.engine.RequestUnlock(context.Background(), p); !errors.Is(err, ErrNoActiveLock) {
		t.Fatalf("RequestUnlock() error = %v, want ErrNoActiveLock", err)
	}
}

func TestApproveUnlockMidCooldownResetsCounters(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()
	env.declare(t, p)
	env.completeSessions(t, p, 2, 20*time.Minute)
	env.submitAars(t, p, 1)

	env.clock.Advance(3 * day)
	if _, err := env.engine.RequestUnlock(ctx, p); err != nil {
		t.Fatalf("RequestUnlock() error = %v", err)
	}

	u, err := env.engine.ApproveUnlock(ctx, env.admin, p.UserID)
	if err != nil {
		t.Fatalf("ApproveUnlock() error = %v", err)
	}
	if u.State != models.LockStateUnassigned {
		t.Fatalf("State = %q, want unassigned", u.State)
	}

	stored := env.reload(t, p.UserID)
	assertInvariants(t, stored)
	if stored.PrimarySubjectID != nil || stored.UnlockRequested {
		t.Fatalf("lock fields = %+v, want cleared", stored.LockFields)
	}
	if stored.SessionCount != 0 || stored.AarCount != 0 {
		t.Fatalf("counters = %d/%d, want reset to 0", stored.SessionCount, stored.AarCount)
	}
	if stored.TotalStudyMinutes != 40 {
		t.Fatalf("TotalStudyMinutes = %d, want 40", stored.TotalStudyMinutes)
	}

	approved := env.notifier.ofKind(notify.KindUnlockApproved)
	if len(approved) != 1 || approved[0].Recipients[0] != "alice@example.com" {
		t.Fatalf("unlock_approved notifications = %+v, want one to alice", approved)
	}
}

func TestApproveUnlockPreconditions(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()

	if _, err := env.engine.ApproveUnlock(ctx, env.admin, p.UserID); !errors.Is(err, ErrNoActiveLock) {
		t.Fatalf("ApproveUnlock(unassigned) error = %v, want ErrNoActiveLock", err)
	}

	env.declare(t, p)
	if _, err := env.engine.ApproveUnlock(ctx, env.admin, p.UserID); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("ApproveUnlock(no request) error = %v, want ErrNoPendingRequest", err)
	}
	if _, err := env.engine.ApproveUnlock(ctx, env.admin, "usr_missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("ApproveUnlock(unknown) error = %v, want ErrUserNotFound", err)
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	other := env.student(t, "bob@example.com")
	ctx := context.Background()
	env.declare(t, p)
	if _, err := env.engine.RequestUnlock(ctx, p); err != nil {
		t.Fatalf("RequestUnlock() error = %v", err)
	}
	before := env.reload(t, p.UserID)

	if _, err := env.engine.ApproveUnlock(ctx, other, p.UserID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("ApproveUnlock() error = %v, want ErrForbidden", err)
	}
	if _, err := env.engine.DenyUnlock(ctx, other, p.UserID, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("DenyUnlock() error = %v, want ErrForbidden", err)
	}
	if _, err := env.engine.ForceUnlock(ctx, other, p.UserID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("ForceUnlock() error = %v, want ErrForbidden", err)
	}

	after := env.reload(t, p.UserID)
	if after.LockVersion != before.LockVersion || after.State != models.LockStateUnlockPending {
		t.Fatalf("lock mutated by non-admin: %+v", after.LockFields)
	}
}

func TestDenyUnlockIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()
	env.declare(t, p)
	env.clock.Advance(day)
	if _, err := env.engine.RequestUnlock(ctx, p); err != nil {
		t.Fatalf("RequestUnlock() error = %v", err)
	}
	pending := env.reload(t, p.UserID)

	if _, err := env.engine.DenyUnlock(ctx, env.admin, p.UserID, "finish the problem set first"); err != nil {
		t.Fatalf("DenyUnlock() error = %v", err)
	}
	denied := env.reload(t, p.UserID)
	assertInvariants(t, denied)
	if denied.State != models.LockStateLocked || denied.UnlockRequested {
		t.Fatalf("lock fields = %+v, want locked without request", denied.LockFields)
	}
	if !denied.LockedAt.Equal(*pending.LockedAt) || denied.GetPrimarySubjectID() != pending.GetPrimarySubjectID() {
		t.Fatalf("deny changed the lock: %+v", denied.LockFields)
	}

	if _, err := env.engine.DenyUnlock(ctx, env.admin, p.UserID, "again"); err != nil {
		t.Fatalf("DenyUnlock() twice error = %v", err)
	}
	if again := env.reload(t, p.UserID); again.LockVersion != denied.LockVersion {
		t.Fatalf("second deny wrote the row: version %d -> %d", denied.LockVersion, again.LockVersion)
	}

	got := env.notifier.ofKind(notify.KindUnlockDenied)
	if len(got) != 1 || got[0].Reason != "finish the problem set first" {
		t.Fatalf("unlock_denied notifications = %+v, want one with the reason", got)
	}

	// A denied user can ask again and is re-queued.
	if _, err := env.engine.RequestUnlock(ctx, p); err != nil {
		t.Fatalf("RequestUnlock() after deny error = %v", err)
	}
	if got := env.notifier.ofKind(notify.KindUnlockRequested); len(got) != 2 {
		t.Fatalf("unlock_requested notifications = %d, want 2", len(got))
	}
}

func TestForceUnlockWithoutRequest(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()

	if _, err := env.engine.ForceUnlock(ctx, env.admin, p.UserID); !errors.Is(err, ErrNoActiveLock) {
		t.Fatalf("ForceUnlock(unassigned) error = %v, want ErrNoActiveLock", err)
	}

	env.declare(t, p)
	env.completeSessions(t, p, 1, 15*time.Minute)

	if _, err := env.engine.ForceUnlock(ctx, env.admin, p.UserID); err != nil {
		t.Fatalf("ForceUnlock() error = %v", err)
	}
	u := env.reload(t, p.UserID)
	assertInvariants(t, u)
	if u.State != models.LockStateUnassigned || u.SessionCount != 0 || u.TotalStudyMinutes != 15 {
		t.Fatalf("user = %+v, want unassigned with sessions reset and minutes kept", u)
	}
	if got := env.notifier.ofKind(notify.KindUnlockForced); len(got) != 1 {
		t.Fatalf("unlock_forced notifications = %d, want 1", len(got))
	}

	// The user can lock again straight away.
	env.declare(t, p)
}

func TestRequestUnlockRacingForceUnlockStaysConsistent(t *testing.T) {
	for i := 0; i < 5; i++ {
		env := newTestEnv(t)
		p := env.student(t, "alice@example.com")
		env.declare(t, p)

		var wg sync.WaitGroup
		var reqErr, forceErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, reqErr = env.engine.RequestUnlock(context.Background(), p)
		}()
		go func() {
			defer wg.Done()
			_, forceErr = env.engine.ForceUnlock(context.Background(), env.admin, p.UserID)
		}()
		wg.Wait()

		if forceErr != nil {
			t.Fatalf("ForceUnlock() error = %v", forceErr)
		}
		if reqErr != nil && !errors.Is(reqErr, ErrNoActiveLock) {
			t.Fatalf("RequestUnlock() error = %v, want nil or ErrNoActiveLock", reqErr)
		}

		u := env.reload(t, p.UserID)
		assertInvariants(t, u)
		if u.State != models.LockStateUnassigned || u.UnlockRequested {
			t.Fatalf("final lock fields = %+v, want unassigned", u.LockFields)
		}
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.student(t, "alice@example.com")
	ctx := context.Background()
	env.declare(t, p)
	env.completeSessions(t, p, 2, 5*time.Minute)
	env.submitAars(t, p, 1)
	env.clock.Advance(36 * time.Hour)

	st, err := env.engine.Status(ctx, p.UserID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.IsLocked || st.CanUnlock {
		t.Fatalf("Status() = %+v, want locked", st)
	}
	if st.DaysElapsed != 1 || st.DaysRemaining != 6 || st.SessionsNeeded != 3 || st.AarsNeeded != 2 {
		t.Fatalf("Status() = %+v, want 1 elapsed, 6 remaining, 3 sessions and 2 aars needed", st)
	}
	if st.TotalStudyMinutes != 10 {
		t.Fatalf("TotalStudyMinutes = %d, want 10", st.TotalStudyMinutes)
	}

	if _, err := env.engine.Status(ctx, "usr_missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("Status(unknown) error = %v, want ErrUserNotFound", err)
	}
}

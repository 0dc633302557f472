package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studylock/internal/db"
	"studylock/internal/models"
	"studylock/internal/notify"
)

// maxSwapAttempts bounds how often a transition re-reads the user after
// losing a compare-and-swap race.
const maxSwapAttempts = 3

// Principal is the verified caller supplied by the auth middleware.
type Principal struct {
	UserID  string
	IsAdmin bool
}

type Accounts interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	SwapLock(ctx context.Context, id string, expectedVersion int64, next models.LockFields, resetProgress bool) (bool, error)
	AdminEmails(ctx context.Context) ([]string, error)
}

type Catalog interface {
	IsActiveSubject(ctx context.Context, id string) (bool, error)
}

// Notifier delivers lock events. Implementations must not block the caller
// and never report failures back.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Notification) {}

// Engine owns every transition of a user's subject lock.
type Engine struct {
	accounts Accounts
	catalog  Catalog
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(accounts Accounts, catalog Catalog, notifier Notifier, opts ...Option) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	e := &Engine{
		accounts: accounts,
		catalog:  catalog,
		notifier: notifier,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UnlockResult is returned by RequestUnlock.
type UnlockResult struct {
	Unlocked bool   `json:"unlocked"`
	Status   Status `json:"status"`
}

func (e *Engine) DeclareSubject(ctx context.Context, p Principal, subjectID string) (*models.User, error) {
	now := e.clock()
	subjectChecked := false

	u, _, err := e.transition(ctx, p.UserID, func(u *models.User) (change, error) {
		c, err := declare(u.LockFields, subjectID, now)
		if err != nil {
			return change{}, err
		}
		if !subjectChecked {
			active, err := e.catalog.IsActiveSubject(ctx, subjectID)
			if err != nil {
				return change{}, fmt.Errorf("checking subject: %w", err)
			}
			if !active {
				return change{}, ErrSubjectNotFound
			}
			subjectChecked = true
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("subject declared", "component", "lock", "user_id", u.ID, "subject_id", subjectID)
	return u, nil
}

// RequestUnlock auto-unlocks an eligible user and otherwise queues the request
// for administrators. Administrators are notified only when a request is
// newly filed, not when a pending one is refreshed.
func (e *Engine) RequestUnlock(ctx context.Context, p Principal) (UnlockResult, error) {
	now := e.clock()

	var (
		unlocked  bool
		wasLocked bool
		subjectID string
	)
	u, _, err := e.transition(ctx, p.UserID, func(u *models.User) (change, error) {
		c, ok, err := requestUnlock(u, now)
		unlocked = ok
		wasLocked = u.State == models.LockStateLocked
		subjectID = u.GetPrimarySubjectID()
		return c, err
	})
	if err != nil {
		return UnlockResult{}, err
	}

	status := Evaluate(u, now)
	if unlocked {
		e.logger.Info("subject auto-unlocked", "component", "lock", "user_id", u.ID, "subject_id", subjectID)
		e.notifier.Notify(ctx, e.userNotification(notify.KindAutoUnlocked, u, subjectID, ""))
		return UnlockResult{Unlocked: true, Status: status}, nil
	}

	e.logger.Info("unlock requested", "component", "lock", "user_id", u.ID, "days_elapsed", status.DaysElapsed)
	if wasLocked {
		e.notifyAdmins(ctx, u, status)
	}
	return UnlockResult{Unlocked: false, Status: status}, nil
}

// ApproveUnlock clears a pending request and resets session and AAR counters.
func (e *Engine) ApproveUnlock(ctx context.Context, admin Principal, userID string) (*models.User, error) {
	return e.adminClear(ctx, admin, userID, notify.KindUnlockApproved, approve)
}

// ForceUnlock clears any active lock, with or without a pending request.
func (e *Engine) ForceUnlock(ctx context.Context, admin Principal, userID string) (*models.User, error) {
	return e.adminClear(ctx, admin, userID, notify.KindUnlockForced, force)
}

// DenyUnlock returns a pending request to the locked state. Denying a user who
// has no pending request changes nothing and sends nothing.
func (e *Engine) DenyUnlock(ctx context.Context, admin Principal, userID, reason string) (*models.User, error) {
	if !admin.IsAdmin {
		return nil, ErrForbidden
	}

	u, changed, err := e.transition(ctx, userID, func(u *models.User) (change, error) {
		return deny(u.LockFields)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.logger.Info("unlock denied", "component", "lock", "user_id", u.ID, "admin_id", admin.UserID)
		e.notifier.Notify(ctx, e.userNotification(notify.KindUnlockDenied, u, u.GetPrimarySubjectID(), reason))
	}
	return u, nil
}

func (e *Engine) Status(ctx context.Context, userID string) (Status, error) {
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return Evaluate(u, e.clock()), nil
}

// StatusOf evaluates an already loaded user against the engine clock.
func (e *Engine) StatusOf(u *models.User) Status {
	return Evaluate(u, e.clock())
}

func (e *Engine) adminClear(ctx context.Context, admin Principal, userID string, kind notify.Kind, fn func(models.LockFields) (change, error)) (*models.User, error) {
	if !admin.IsAdmin {
		return nil, ErrForbidden
	}

	var subjectID string
	u, _, err := e.transition(ctx, userID, func(u *models.User) (change, error) {
		subjectID = u.GetPrimarySubjectID()
		return fn(u.LockFields)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("subject unlocked by admin",
		"component", "lock",
		"user_id", u.ID,
		"admin_id", admin.UserID,
		"kind", kind,
	)
	e.notifier.Notify(ctx, e.userNotification(kind, u, subjectID, ""))
	return u, nil
}

// transition reads the user, applies fn, and writes the result with a
// compare-and-swap on the lock version. A lost race re-reads and re-applies
// fn, so a precondition checked by fn always holds against the row written.
// It returns the user as stored after the write and whether anything changed.
func (e *Engine) transition(ctx context.Context, userID string, fn func(*models.User) (change, error)) (*models.User, bool, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		u, err := e.loadUser(ctx, userID)
		if err != nil {
			return nil, false, err
		}

		c, err := fn(u)
		if err != nil {
			return nil, false, err
		}
		if c.noop {
			return u, false, nil
		}
		if err := validate(c.next); err != nil {
			return nil, false, err
		}

		ok, err := e.accounts.SwapLock(ctx, u.ID, u.LockVersion, c.next, c.resetProgress)
		if err != nil {
			return nil, false, fmt.Errorf("writing lock fields: %w", err)
		}
		if ok {
			u.LockFields = c.next
			u.LockVersion++
			if c.resetProgress {
				u.SessionCount = 0
				u.AarCount = 0
			}
			return u, true, nil
		}

		e.logger.Debug("lock swap lost, retrying", "component", "lock", "user_id", userID, "attempt", attempt+1)
	}

	return nil, false, ErrConcurrentUpdate
}

func (e *Engine) loadUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := e.accounts.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return u, nil
}

func (e *Engine) notifyAdmins(ctx context.Context, u *models.User, status Status) {
	admins, err := e.accounts.AdminEmails(ctx)
	if err != nil {
		e.logger.Warn("failed to load admin emails", "component", "lock", "user_id", u.ID, "error", err)
		return
	}
	if len(admins) == 0 {
		return
	}

	n := e.userNotification(notify.KindUnlockRequested, u, u.GetPrimarySubjectID(), "")
	n.Recipients = admins
	n.DaysElapsed = status.DaysElapsed
	e.notifier.Notify(ctx, n)
}

func (e *Engine) userNotification(kind notify.Kind, u *models.User, subjectID, reason string) notify.Notification {
	return notify.Notification{
		Kind:         kind,
		Recipients:   []string{u.Email},
		UserID:       u.ID,
		UserEmail:    u.Email,
		UserName:     u.Name,
		SubjectID:    subjectID,
		Reason:       reason,
		SessionCount: u.SessionCount,
		AarCount:     u.AarCount,
		CreatedAt:    e.clock(),
	}
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

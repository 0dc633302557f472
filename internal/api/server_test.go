package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"studylock/internal/auth"
	"studylock/internal/config"
	"studylock/internal/constants"
	"studylock/internal/db"
	"studylock/internal/lock"
	"studylock/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	t         *testing.T
	handler   http.Handler
	deps      Deps
	clock     *testClock
	subjectID string
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	database := openTestDB(t)
	clock := &testClock{now: time.Now().UTC()}

	users := db.NewUserRepository(database)
	catalog := db.NewCatalogRepository(database)
	engine := lock.NewEngine(users, catalog, nil, lock.WithClock(clock.Now))

	deps := Deps{
		Config:        &config.Config{},
		Database:      database,
		Users:         users,
		RefreshTokens: db.NewRefreshTokenRepository(database),
		AccessCodes:   db.NewAccessCodeRepository(database),
		Audit:         db.NewAuditRepository(database),
		Catalog:       catalog,
		Engine:        engine,
		Sessions:      lock.NewSessionRecorder(engine, db.NewSessionRepository(database)),
		Aars:          lock.NewAarRecorder(engine, db.NewAarRepository(database)),
		JWT:           auth.NewJWTService("test-secret-that-is-long-enough-for-hs256", 15*time.Minute, 24*time.Hour),
	}

	server, err := NewServer(deps)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx := context.Background()
	department, err := catalog.CreateDepartment(ctx, "CS", "Computer Science")
	if err != nil {
		t.Fatalf("CreateDepartment() error = %v", err)
	}
	subject, err := catalog.CreateSubject(ctx, department.ID, "CS101", "Intro to Programming", "")
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}

	return &testServer{t: t, handler: server, deps: deps, clock: clock, subjectID: subject.ID}
}

// createUser inserts a user directly and returns it with a valid access token.
func (s *testServer) createUser(email string, role models.Role) (*models.User, string) {
	s.t.Helper()

	hash, err := auth.HashPassword("correct horse battery")
	if err != nil {
		s.t.Fatalf("HashPassword() error = %v", err)
	}
	user := &models.User{Email: email, Name: "Test User", PasswordHash: hash, Role: role}
	if err := s.deps.Users.Create(context.Background(), user); err != nil {
		s.t.Fatalf("Create() error = %v", err)
	}

	pair, _, err := s.deps.JWT.GenerateTokenPair(user)
	if err != nil {
		s.t.Fatalf("GenerateTokenPair() error = %v", err)
	}
	return user, pair.AccessToken
}

func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d, body=%q", rr.Code, want, rr.Body.String())
	}
}

func expectErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	resp := decodeBody[ErrorResponse](t, rr)
	if resp.Error.Code != code {
		t.Fatalf("error.code = %q, want %q", resp.Error.Code, code)
	}
}

func TestRegisterRedeemsAccessCodeOnce(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.createUser("admin@example.com", models.RoleAdmin)

	rr := s.do(http.MethodPost, "/api/v1/admin/access-codes", adminToken, `{"count":1,"note":"spring cohort"}`)
	expectStatus(t, rr, http.StatusCreated)
	created := decodeBody[struct {
		Codes []IssuedAccessCode `json:"codes"`
	}](t, rr)
	if len(created.Codes) != 1 || created.Codes[0].Code == "" {
		t.Fatalf("codes = %+v, want one plaintext code", created.Codes)
	}
	code := created.Codes[0].Code

	rr = s.do(http.MethodPost, "/api/v1/auth/register", "",
		`{"accessCode":"`+strings.ToLower(code)+`","email":" Student@Example.com ","password":"long enough password","name":"Sam"}`)
	expectStatus(t, rr, http.StatusCreated)
	registered := decodeBody[AuthResponse](t, rr)
	if registered.User == nil || registered.User.Email != "student@example.com" {
		t.Fatalf("user = %+v, want normalized email", registered.User)
	}
	if registered.User.State != models.LockStateUnassigned {
		t.Fatalf("state = %q, want %q", registered.User.State, models.LockStateUnassigned)
	}
	if registered.AccessToken == "" || registered.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}

	rr = s.do(http.MethodPost, "/api/v1/auth/register", "",
		`{"accessCode":"`+code+`","email":"other@example.com","password":"long enough password","name":"Other"}`)
	expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeAccessCodeInvalid)
}

func TestRegisterValidatesPayload(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "short_password", body: `{"accessCode":"ABCD","email":"a@example.com","password":"short","name":"A"}`},
		{name: "bad_email", body: `{"accessCode":"ABCD","email":"not-an-email","password":"long enough password","name":"A"}`},
		{name: "unknown_field", body: `{"accessCode":"ABCD","email":"a@example.com","password":"long enough password","name":"A","role":"admin"}`},
		{name: "missing_code", body: `{"email":"a@example.com","password":"long enough password","name":"A"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(http.MethodPost, "/api/v1/auth/register", "", tt.body)
			expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeInvalidRequest)
		})
	}
}

func TestLoginAndRefreshRotation(t *testing.T) {
	s := newTestServer(t)
	s.createUser("sam@example.com", models.RoleStudent)

	rr := s.do(http.MethodPost, "/api/v1/auth/login", "", `{"email":"sam@example.com","password":"wrong password"}`)
	expectErrorCode(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)

	rr = s.do(http.MethodPost, "/api/v1/auth/login", "", `{"email":"SAM@example.com","password":"correct horse battery"}`)
	expectStatus(t, rr, http.StatusOK)
	login := decodeBody[AuthResponse](t, rr)

	rr = s.do(http.MethodPost, "/api/v1/auth/refresh", "", `{"refreshToken":"`+login.RefreshToken+`"}`)
	expectStatus(t, rr, http.StatusOK)
	refreshed := decodeBody[RefreshResponse](t, rr)
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}

	rr = s.do(http.MethodPost, "/api/v1/auth/refresh", "", `{"refreshToken":"`+login.RefreshToken+`"}`)
	expectErrorCode(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/api/v1/progress", "", "")
	expectErrorCode(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)

	rr = s.do(http.MethodGet, "/api/v1/progress", "not-a-jwt", "")
	expectErrorCode(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	student, token := s.createUser("sam@example.com", models.RoleStudent)

	for _, path := range []string{
		"/api/v1/admin/users",
		"/api/v1/admin/unlock-requests",
		"/api/v1/admin/audit-log",
	} {
		rr := s.do(http.MethodGet, path, token, "")
		expectErrorCode(t, rr, http.StatusForbidden, constants.ErrCodeForbidden)
	}

	rr := s.do(http.MethodPost, "/api/v1/admin/users/"+student.ID+"/force-unlock", token, "")
	expectErrorCode(t, rr, http.StatusForbidden, constants.ErrCodeForbidden)
}

func TestLockLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	student, token := s.createUser("sam@example.com", models.RoleStudent)
	_, adminToken := s.createUser("admin@example.com", models.RoleAdmin)

	rr := s.do(http.MethodPost, "/api/v1/declare-subject", token, `{"subjectId":"sub_missing"}`)
	expectErrorCode(t, rr, http.StatusNotFound, constants.ErrCodeSubjectNotFound)

	rr = s.do(http.MethodPost, "/api/v1/declare-subject", token, `{"subjectId":"`+s.subjectID+`"}`)
	expectStatus(t, rr, http.StatusOK)
	declared := decodeBody[struct {
		Message string `json:"message"`
		User    struct {
			Status lock.Status `json:"status"`
		} `json:"user"`
	}](t, rr)
	if declared.Message == "" {
		t.Fatal("expected a message")
	}
	if declared.User.Status.State != models.LockStateLocked || !declared.User.Status.IsLocked {
		t.Fatalf("status = %+v, want locked", declared.User.Status)
	}

	rr = s.do(http.MethodPost, "/api/v1/declare-subject", token, `{"subjectId":"`+s.subjectID+`"}`)
	expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeAlreadyLocked)

	rr = s.do(http.MethodPost, "/api/v1/sessions/start", token, `{"plannedDuration":30,"sessionType":"review"}`)
	expectStatus(t, rr, http.StatusCreated)
	started := decodeBody[SessionResponse](t, rr)

	rr = s.do(http.MethodPost, "/api/v1/sessions/start", token, `{"plannedDuration":30}`)
	expectStatus(t, rr, http.StatusBadRequest)
	active := decodeBody[activeSessionError](t, rr)
	if active.Error.Code != constants.ErrCodeSessionAlreadyActive || active.Session == nil || active.Session.ID != started.Session.ID {
		t.Fatalf("response = %+v, want existing session %s", active, started.Session.ID)
	}

	rr = s.do(http.MethodPost, "/api/v1/sessions/"+started.Session.ID+"/complete", token, "")
	expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeSessionTooShort)

	s.clock.Advance(31 * time.Minute)
	rr = s.do(http.MethodPost, "/api/v1/sessions/"+started.Session.ID+"/complete", token, `{"notes":"<b>chapter 3</b>"}`)
	expectStatus(t, rr, http.StatusOK)
	completed := decodeBody[SessionResponse](t, rr)
	if !completed.RequiresAAR || completed.Session.ActualDuration == nil || *completed.Session.ActualDuration != 31 {
		t.Fatalf("completed = %+v, want 31 minutes and requiresAAR", completed)
	}
	if completed.Session.Notes == nil || *completed.Session.Notes != "chapter 3" {
		t.Fatalf("notes = %v, want sanitised text", completed.Session.Notes)
	}

	rr = s.do(http.MethodGet, "/api/v1/progress", token, "")
	expectStatus(t, rr, http.StatusOK)
	progress := decodeBody[ProgressResponse](t, rr)
	if progress.Message == "" {
		t.Fatal("progress message is empty")
	}
	if st := progress.Status; st.SessionCount != 1 || st.TotalStudyMinutes != 31 || st.SessionsNeeded != 4 {
		t.Fatalf("progress = %+v, want one 31 minute session", st)
	}

	rr = s.do(http.MethodPost, "/api/v1/unlock-request", token, "")
	expectStatus(t, rr, http.StatusOK)
	requested := decodeBody[UnlockResponse](t, rr)
	if requested.Unlocked || requested.Status.State != models.LockStateUnlockPending {
		t.Fatalf("unlock = %+v, want pending", requested)
	}

	rr = s.do(http.MethodGet, "/api/v1/admin/unlock-requests", adminToken, "")
	expectStatus(t, rr, http.StatusOK)
	queue := decodeBody[struct {
		Requests []struct {
			ID string `json:"id"`
		} `json:"requests"`
	}](t, rr)
	if len(queue.Requests) != 1 || queue.Requests[0].ID != student.ID {
		t.Fatalf("queue = %+v, want the student", queue.Requests)
	}

	rr = s.do(http.MethodPost, "/api/v1/admin/users/"+student.ID+"/approve-unlock", adminToken, "")
	expectStatus(t, rr, http.StatusOK)
	approved := decodeBody[struct {
		User struct {
			Status lock.Status `json:"status"`
		} `json:"user"`
	}](t, rr)
	if approved.User.Status.State != models.LockStateUnassigned || approved.User.Status.SessionCount != 0 {
		t.Fatalf("status = %+v, want unassigned with reset counters", approved.User.Status)
	}
	if approved.User.Status.TotalStudyMinutes != 31 {
		t.Fatalf("totalStudyMinutes = %d, want 31", approved.User.Status.TotalStudyMinutes)
	}

	rr = s.do(http.MethodPost, "/api/v1/admin/users/"+student.ID+"/approve-unlock", adminToken, "")
	expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeNoActiveLock)

	rr = s.do(http.MethodGet, "/api/v1/admin/audit-log", adminToken, "")
	expectStatus(t, rr, http.StatusOK)
	audit := decodeBody[struct {
		Entries []models.AuditEntry `json:"entries"`
	}](t, rr)
	if len(audit.Entries) != 1 || audit.Entries[0].Action != "approve_unlock" || audit.Entries[0].ResourceID != student.ID {
		t.Fatalf("audit entries = %+v, want one approve_unlock", audit.Entries)
	}
}

func TestDenyUnlockWithoutBody(t *testing.T) {
	s := newTestServer(t)
	student, token := s.createUser("sam@example.com", models.RoleStudent)
	_, adminToken := s.createUser("admin@example.com", models.RoleAdmin)

	expectStatus(t, s.do(http.MethodPost, "/api/v1/declare-subject", token, `{"subjectId":"`+s.subjectID+`"}`), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/unlock-request", token, ""), http.StatusOK)

	rr := s.do(http.MethodPost, "/api/v1/admin/users/"+student.ID+"/deny-unlock", adminToken, "")
	expectStatus(t, rr, http.StatusOK)
	denied := decodeBody[struct {
		User struct {
			Status lock.Status `json:"status"`
		} `json:"user"`
	}](t, rr)
	if denied.User.Status.State != models.LockStateLocked || denied.User.Status.UnlockRequested {
		t.Fatalf("status = %+v, want locked without a request", denied.User.Status)
	}
}

func TestAarSubmitOverHTTP(t *testing.T) {
	s := newTestServer(t)
	_, token := s.createUser("sam@example.com", models.RoleStudent)

	long := `{"whatWorked":"spaced repetition of the lecture notes","whatBlocked":"phone notifications kept interrupting me","tomorrowPlan":"finish problem set two before lunch and then review chapter four"}`

	rr := s.do(http.MethodPost, "/api/v1/aar/submit", token, long)
	expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeNoSubjectDeclared)

	expectStatus(t, s.do(http.MethodPost, "/api/v1/declare-subject", token, `{"subjectId":"`+s.subjectID+`"}`), http.StatusOK)

	rr = s.do(http.MethodPost, "/api/v1/aar/submit", token, `{"whatWorked":"ok","whatBlocked":"ok","tomorrowPlan":"ok"}`)
	expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeAarTooShort)

	rr = s.do(http.MethodPost, "/api/v1/aar/submit", token, long)
	expectStatus(t, rr, http.StatusCreated)

	rr = s.do(http.MethodGet, "/api/v1/aar?limit=10", token, "")
	expectStatus(t, rr, http.StatusOK)
	list := decodeBody[struct {
		Aars []models.AarEntry `json:"aars"`
	}](t, rr)
	if len(list.Aars) != 1 || list.Aars[0].WordCount < constants.MinAarWords {
		t.Fatalf("aars = %+v, want one accepted entry", list.Aars)
	}

	rr = s.do(http.MethodGet, "/api/v1/aar?limit=abc", token, "")
	expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeInvalidRequest)
}

func TestSessionRoutesHideOtherUsersSessions(t *testing.T) {
	s := newTestServer(t)
	_, ownerToken := s.createUser("owner@example.com", models.RoleStudent)
	_, otherToken := s.createUser("other@example.com", models.RoleStudent)

	expectStatus(t, s.do(http.MethodPost, "/api/v1/declare-subject", ownerToken, `{"subjectId":"`+s.subjectID+`"}`), http.StatusOK)
	rr := s.do(http.MethodPost, "/api/v1/sessions/start", ownerToken, `{"plannedDuration":25}`)
	expectStatus(t, rr, http.StatusCreated)
	started := decodeBody[SessionResponse](t, rr)

	rr = s.do(http.MethodPost, "/api/v1/sessions/"+started.Session.ID+"/abandon", otherToken, "")
	expectErrorCode(t, rr, http.StatusNotFound, constants.ErrCodeNotFound)

	rr = s.do(http.MethodGet, "/api/v1/sessions/active", otherToken, "")
	expectStatus(t, rr, http.StatusOK)
	if got := strings.TrimSpace(rr.Body.String()); got != `{"session":null}` {
		t.Fatalf("body = %s, want null session", got)
	}

	rr = s.do(http.MethodPost, "/api/v1/sessions/"+started.Session.ID+"/abandon", ownerToken, "")
	expectStatus(t, rr, http.StatusOK)

	rr = s.do(http.MethodGet, "/api/v1/sessions", ownerToken, "")
	expectStatus(t, rr, http.StatusOK)
	history := decodeBody[struct {
		Sessions []models.StudySession `json:"sessions"`
	}](t, rr)
	if len(history.Sessions) != 1 || history.Sessions[0].AbandonedAt == nil {
		t.Fatalf("sessions = %+v, want one abandoned session", history.Sessions)
	}
}

func TestCatalogAdminFlow(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.createUser("admin@example.com", models.RoleAdmin)
	_, token := s.createUser("sam@example.com", models.RoleStudent)

	rr := s.do(http.MethodPatch, "/api/v1/admin/subjects/"+s.subjectID, adminToken, `{"active":false}`)
	expectStatus(t, rr, http.StatusOK)

	rr = s.do(http.MethodPost, "/api/v1/declare-subject", token, `{"subjectId":"`+s.subjectID+`"}`)
	expectErrorCode(t, rr, http.StatusNotFound, constants.ErrCodeSubjectNotFound)

	rr = s.do(http.MethodGet, "/api/v1/catalog/departments", token, "")
	expectStatus(t, rr, http.StatusOK)
	catalog := decodeBody[struct {
		Departments []models.Department `json:"departments"`
	}](t, rr)
	if len(catalog.Departments) != 1 || len(catalog.Departments[0].Subjects) != 0 {
		t.Fatalf("departments = %+v, want the inactive subject hidden", catalog.Departments)
	}

	rr = s.do(http.MethodPost, "/api/v1/admin/subjects/"+s.subjectID+"/resources", adminToken, `{"title":"Course notes","url":"not a url"}`)
	expectErrorCode(t, rr, http.StatusBadRequest, constants.ErrCodeInvalidRequest)

	rr = s.do(http.MethodPost, "/api/v1/admin/subjects/"+s.subjectID+"/resources", adminToken, `{"title":"Course notes","url":"https://example.com/notes"}`)
	expectStatus(t, rr, http.StatusCreated)

	rr = s.do(http.MethodGet, "/api/v1/catalog/subjects/"+s.subjectID, token, "")
	expectStatus(t, rr, http.StatusOK)
	subject := decodeBody[models.Subject](t, rr)
	if len(subject.Resources) != 1 || subject.Resources[0].Kind != "link" {
		t.Fatalf("resources = %+v, want one link", subject.Resources)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/health", "", "")
	expectStatus(t, rr, http.StatusOK)
	if _, err := uuid.Parse(rr.Header().Get(requestIDHeader)); err != nil {
		t.Fatalf("X-Request-ID = %q, want a UUID", rr.Header().Get(requestIDHeader))
	}

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, incoming)
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get(requestIDHeader); got != incoming {
		t.Fatalf("X-Request-ID = %q, want %q", got, incoming)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	s := newTestServer(t)
	_, token := s.createUser("sam@example.com", models.RoleStudent)

	body := `{"whatWorked":"` + strings.Repeat("a", maxBodyBytes) + `","whatBlocked":"x","tomorrowPlan":"y"}`
	rr := s.do(http.MethodPost, "/api/v1/aar/submit", token, body)
	expectErrorCode(t, rr, http.StatusRequestEntityTooLarge, constants.ErrCodePayloadTooLarge)
}

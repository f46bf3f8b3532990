package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"collabforge/backend/internal/audit"
	auditdomain "collabforge/backend/internal/audit/domain"
	commitdomain "collabforge/backend/internal/commit/domain"
	commitrepo "collabforge/backend/internal/commit/repository"
	"collabforge/backend/internal/pager"
	"collabforge/backend/internal/policy"
	policyengine "collabforge/backend/internal/policy/engine"
	"collabforge/backend/internal/security"
	sessiondomain "collabforge/backend/internal/session/domain"
	"collabforge/backend/internal/session/service"
	"collabforge/backend/internal/session/stepup"
	userdomain "collabforge/backend/internal/user/domain"
	"collabforge/backend/internal/writeguard"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUserRepo) GetByUsername(_ context.Context, username string) (*userdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

type memSessions struct {
	mu       sync.Mutex
	users    *memUserRepo
	sessions map[string]*sessiondomain.Session
}

func (m *memSessions) Create(ctx context.Context, s *sessiondomain.Session) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) FindSessionAndUser(ctx context.Context, sessionType, tokenHash string) (*userdomain.User, *sessiondomain.Session, error) {
	m.mu.Lock()
	var found *sessiondomain.Session
	for _, s := range m.sessions {
		if s.Type == sessionType && s.TokenHash == tokenHash && s.ExpiresAt.After(time.Now()) {
			cp := *s
			found = &cp
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, nil, nil
	}
	u, err := m.users.GetByID(ctx, found.UserID)
	if err != nil || u == nil {
		return nil, nil, err
	}
	return u, found, nil
}

func (m *memSessions) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (m *memSessions) SetHighSecurityUntil(ctx context.Context, id string, until *time.Time) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.HighSecurityUntil = until
	}
	return nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*auditdomain.AuditLog
}

func (m *memAuditRepo) GetByID(_ context.Context, id string) (*auditdomain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (m *memAuditRepo) Create(_ context.Context, a *auditdomain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, a)
	return nil
}

func (m *memAuditRepo) PageEvents(_ context.Context, order pager.Order, after *pager.Key, limit int) ([]*auditdomain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := make([]*auditdomain.AuditLog, len(m.entries))
	copy(sorted, m.entries)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if order.Descending {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	var out []*auditdomain.AuditLog
	skip := after != nil
	for _, e := range sorted {
		if skip {
			if e.ID == after.ID {
				skip = false
			}
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type staticCommits struct {
	commits []*commitdomain.Commit
}

func (s *staticCommits) PageCommits(_ context.Context, filters commitrepo.Filters, order pager.Order, after *pager.Key, limit int) ([]*commitdomain.Commit, error) {
	if after != nil {
		return nil, nil
	}
	out := s.commits
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type testServer struct {
	srv      *Server
	router   *gin.Engine
	users    *memUserRepo
	sessions *memSessions
	audits   *memAuditRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hasher := security.NewHasher(4)
	aliceHash, err := hasher.Hash([]byte("correct horse"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	users := &memUserRepo{users: map[string]*userdomain.User{
		"user-1": {ID: "user-1", Username: "alice", Email: "alice@example.com", Status: userdomain.UserStatusActive, PasswordHash: aliceHash},
		"user-2": {ID: "user-2", Username: "root", Email: "root@example.com", Status: userdomain.UserStatusActive, PasswordHash: aliceHash, IsAdmin: true},
	}}
	sessions := &memSessions{users: users, sessions: map[string]*sessiondomain.Session{}}
	audits := &memAuditRepo{}
	recorder := audit.NewLogger(audits, nil, ClientIP)

	hisec := security.NewHighSecurityTokenProvider([]byte("hisec-secret"), "collabforge")
	verifier := stepup.NewPasswordVerifier(users, hasher)
	engine := service.NewEngine(sessions, recorder, hisec, verifier,
		map[string]time.Duration{sessiondomain.TypeWeb: time.Hour, sessiondomain.TypeAPI: 24 * time.Hour},
		15*time.Minute)

	eval, err := policyengine.NewOPAEvaluator()
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}

	commits := &staticCommits{commits: []*commitdomain.Commit{
		{ID: 1, Identifier: "aaa111", Repository: "core", AuthorID: "user-1", Summary: "open change", AuditStatus: commitdomain.AuditStatusNone, Policy: policy.PolicyPublic, CommittedAt: time.Now().Add(-time.Hour)},
		{ID: 2, Identifier: "bbb222", Repository: "core", AuthorID: "user-1", Summary: "internal change", AuditStatus: commitdomain.AuditStatusNeedsAudit, Policy: policy.PolicyUsers, CommittedAt: time.Now()},
	}}

	srv := NewServer(Deps{
		Engine:       engine,
		Users:        users,
		Hasher:       hasher,
		CSRF:         security.NewCSRFProvider([]byte("csrf-secret")),
		Commits:      commits,
		Eval:         eval,
		Audits:       audits,
		CookieMaxAge: 3600,
	})
	return &testServer{srv: srv, router: srv.Router(), users: users, sessions: sessions, audits: audits}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body == "" {
		buf = bytes.NewBuffer(nil)
	} else {
		buf = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

type loginResult struct {
	Token string `json:"token"`
	CSRF  string `json:"csrf_token"`
}

func (ts *testServer) loginAs(t *testing.T, username string) loginResult {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/auth/login", `{"username":"`+username+`","password":"correct horse"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	var res loginResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return res
}

func cookieHeader(token string) map[string]string {
	return map[string]string{"Cookie": SessionCookieName + "=" + token}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	res := ts.loginAs(t, "alice")
	if len(res.Token) != security.SessionKeyLength {
		t.Errorf("token length = %d, want %d", len(res.Token), security.SessionKeyLength)
	}
	if res.CSRF == "" {
		t.Error("no csrf token issued")
	}

	w := ts.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/auth/login", `{"username":"nobody","password":"x"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d, want 401", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/auth/login", `{}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", w.Code)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	ts := newTestServer(t)
	ts.users.users["user-1"].Status = userdomain.UserStatusDisabled
	w := ts.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"correct horse"}`, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("disabled account status = %d, want 403", w.Code)
	}
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/me", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /me status = %d, want 401", w.Code)
	}

	res := ts.loginAs(t, "alice")
	w = ts.do(t, http.MethodGet, "/me", "", cookieHeader(res.Token))
	if w.Code != http.StatusOK {
		t.Fatalf("/me status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		Session struct {
			Type string `json:"type"`
		} `json:"session"`
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /me: %v", err)
	}
	if body.User.Username != "alice" || body.Session.Type != sessiondomain.TypeWeb {
		t.Errorf("unexpected /me payload: %s", w.Body.String())
	}
	if body.CSRFToken == "" {
		t.Error("cookie session /me carries no csrf token")
	}
}

func TestMeWithStaleToken(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/me", "", cookieHeader("A/notarealsession"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("stale token /me status = %d, want 401", w.Code)
	}
}

func TestHighSecurityFlow(t *testing.T) {
	ts := newTestServer(t)
	res := ts.loginAs(t, "alice")
	auth := cookieHeader(res.Token)

	w := ts.do(t, http.MethodGet, "/session/hisec", "", auth)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status before step-up = %d, want 403", w.Code)
	}

	// Missing CSRF header: rejected by the middleware.
	w = ts.do(t, http.MethodPost, "/session/hisec", `{"proof":"correct horse"}`, auth)
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing csrf status = %d, want 403", w.Code)
	}

	withCSRF := map[string]string{
		"Cookie":       SessionCookieName + "=" + res.Token,
		"X-CSRF-Token": res.CSRF,
	}
	w = ts.do(t, http.MethodPost, "/session/hisec", `{"proof":"wrong","cancel_uri":"/settings"}`, withCSRF)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong proof status = %d, want 403", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"challenge_failed":true`) {
		t.Errorf("wrong proof body = %s", w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/session/hisec", `{"proof":"correct horse"}`, withCSRF)
	if w.Code != http.StatusOK {
		t.Fatalf("step-up status = %d, body %s", w.Code, w.Body.String())
	}

	// Window open: status flips, no proof needed.
	w = ts.do(t, http.MethodGet, "/session/hisec", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("status inside window = %d, want 200", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/session/hisec", "", withCSRF)
	if w.Code != http.StatusNoContent {
		t.Fatalf("exit status = %d, want 204", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/session/hisec", "", auth)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status after exit = %d, want 403", w.Code)
	}
}

func TestListCommitsHonorsViewer(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/commits", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("anonymous /commits status = %d", w.Code)
	}
	var body struct {
		Commits []struct {
			Identifier string `json:"identifier"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /commits: %v", err)
	}
	if len(body.Commits) != 1 || body.Commits[0].Identifier != "aaa111" {
		t.Errorf("anonymous viewer sees %+v, want only the public commit", body.Commits)
	}

	res := ts.loginAs(t, "alice")
	w = ts.do(t, http.MethodGet, "/commits", "", cookieHeader(res.Token))
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /commits: %v", err)
	}
	if len(body.Commits) != 2 {
		t.Errorf("logged-in viewer sees %d commits, want 2", len(body.Commits))
	}
}

func TestListCommitsBadParams(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodGet, "/commits?cursor=@@bad@@", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d, want 400", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/commits?limit=-3", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestListAudit(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.loginAs(t, "alice")

	w := ts.do(t, http.MethodGet, "/audit", "", cookieHeader(alice.Token))
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin /audit status = %d, want 403", w.Code)
	}

	admin := ts.loginAs(t, "root")
	w = ts.do(t, http.MethodGet, "/audit", "", cookieHeader(admin.Token))
	if w.Code != http.StatusOK {
		t.Fatalf("admin /audit status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		Events []struct {
			Action string `json:"action"`
		} `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /audit: %v", err)
	}
	// Both logins were audited.
	if len(body.Events) != 2 {
		t.Fatalf("audit trail has %d events, want 2", len(body.Events))
	}
	for _, ev := range body.Events {
		if ev.Action != auditdomain.ActionLogin {
			t.Errorf("unexpected action %q", ev.Action)
		}
	}
}

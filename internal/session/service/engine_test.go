package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collabforge/backend/internal/security"
	"collabforge/backend/internal/session/domain"
	"collabforge/backend/internal/session/stepup"
	userdomain "collabforge/backend/internal/user/domain"
	"collabforge/backend/internal/writeguard"
)

// memSessionRepo implements the session repository in memory, enforcing the
// same write permission rules as the real repositories.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	users    map[string]*userdomain.User
	now      func() time.Time
	lookups  int
}

func newMemSessionRepo(now func() time.Time) *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]*domain.Session),
		users:    make(map[string]*userdomain.User),
		now:      now,
	}
}

func (m *memSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessionRepo) FindSessionAndUser(ctx context.Context, sessionType, tokenHash string) (*userdomain.User, *domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, s := range m.sessions {
		if s.Type != sessionType || s.TokenHash != tokenHash {
			continue
		}
		if !s.ExpiresAt.After(m.now()) {
			continue
		}
		u, ok := m.users[s.UserID]
		if !ok {
			return nil, nil, nil
		}
		ucp := *u
		scp := *s
		return &ucp, &scp, nil
	}
	return nil, nil, nil
}

func (m *memSessionRepo) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
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

func (m *memSessionRepo) SetHighSecurityUntil(ctx context.Context, id string, until *time.Time) error {
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

type recordedEvent struct {
	actorID  string
	action   string
	metadata string
}

type memRecorder struct {
	events []recordedEvent
}

func (m *memRecorder) Record(_ context.Context, actorID, action, metadata string) {
	m.events = append(m.events, recordedEvent{actorID, action, metadata})
}

type stubVerifier struct {
	accepted string
	calls    int
	err      error
}

func (v *stubVerifier) Verify(_ context.Context, _, proof string) error {
	v.calls++
	if v.err != nil {
		return v.err
	}
	if proof != v.accepted {
		return stepup.ErrChallengeFailed
	}
	return nil
}

type fixture struct {
	engine   *Engine
	repo     *memSessionRepo
	recorder *memRecorder
	verifier *stubVerifier
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &base
	now := func() time.Time { return *clock }

	repo := newMemSessionRepo(now)
	repo.users["user-1"] = &userdomain.User{ID: "user-1", Username: "alice"}
	recorder := &memRecorder{}
	verifier := &stubVerifier{accepted: "correct horse"}

	hisec := security.NewHighSecurityTokenProvider([]byte("test-secret"), "collabforge")
	ttls := map[string]time.Duration{
		domain.TypeWeb: time.Hour,
		domain.TypeAPI: 24 * time.Hour,
	}
	eng := NewEngine(repo, recorder, hisec, verifier, ttls, 15*time.Minute)
	eng.now = now
	return &fixture{engine: eng, repo: repo, recorder: recorder, verifier: verifier, clock: clock}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	key, err := f.engine.Establish(context.Background(), domain.TypeWeb, "user-1")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	return key
}

func TestEstablish_PersistsHashedSession(t *testing.T) {
	f := newFixture(t)
	key := f.login(t)

	if len(key) != security.SessionKeyLength {
		t.Errorf("key length = %d, want %d", len(key), security.SessionKeyLength)
	}
	if kind := domain.KindOfToken(key); kind != domain.KindUser {
		t.Errorf("token kind = %q, want %q", kind, domain.KindUser)
	}
	if len(f.repo.sessions) != 1 {
		t.Fatalf("persisted %d sessions, want 1", len(f.repo.sessions))
	}
	for _, s := range f.repo.sessions {
		if s.TokenHash == key {
			t.Error("raw token persisted instead of its hash")
		}
		if s.TokenHash != security.HashToken(key) {
			t.Error("stored hash does not match the issued token")
		}
		if got := s.ExpiresAt.Sub(s.StartedAt); got != time.Hour {
			t.Errorf("session TTL = %v, want 1h", got)
		}
	}
	if len(f.recorder.events) != 1 || f.recorder.events[0].action != "session.login" {
		t.Fatalf("audit events = %+v, want one login", f.recorder.events)
	}
	if f.recorder.events[0].actorID != "user-1" {
		t.Errorf("login actor = %q, want user-1", f.recorder.events[0].actorID)
	}
}

func TestEstablish_AnonymousWritesNothing(t *testing.T) {
	f := newFixture(t)
	key, err := f.engine.Establish(context.Background(), domain.TypeWeb, "")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if kind := domain.KindOfToken(key); kind != domain.KindAnonymous {
		t.Errorf("token kind = %q, want %q", kind, domain.KindAnonymous)
	}
	if len(f.repo.sessions) != 0 {
		t.Error("anonymous session was persisted")
	}
	if len(f.recorder.events) != 0 {
		t.Error("anonymous session was audited")
	}
}

func TestEstablish_UnknownSessionType(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Establish(context.Background(), "carrier-pigeon", "user-1")
	var unknownErr *UnknownSessionTypeError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("err = %v, want UnknownSessionTypeError", err)
	}
	if unknownErr.Type != "carrier-pigeon" {
		t.Errorf("Type = %q, want carrier-pigeon", unknownErr.Type)
	}
}

func TestLoadUser_ResolvesAndAttaches(t *testing.T) {
	f := newFixture(t)
	key := f.login(t)

	u, err := f.engine.LoadUser(context.Background(), domain.TypeWeb, key)
	if err != nil {
		t.Fatalf("LoadUser: %v", err)
	}
	if u == nil || u.ID != "user-1" {
		t.Fatalf("user = %+v, want user-1", u)
	}
	if !u.HasSession() {
		t.Fatal("resolved user has no attached session")
	}
	if u.Session().Type != domain.TypeWeb {
		t.Errorf("attached session type = %q", u.Session().Type)
	}
}

func TestLoadUser_NonUserKindsSkipStorage(t *testing.T) {
	f := newFixture(t)
	for _, token := range []string{"A/abcdef", "X/abcdef", "Z/abcdef"} {
		u, err := f.engine.LoadUser(context.Background(), domain.TypeWeb, token)
		if err != nil || u != nil {
			t.Fatalf("LoadUser(%q) = (%v, %v), want (nil, nil)", token, u, err)
		}
	}
	if f.repo.lookups != 0 {
		t.Errorf("storage hit %d times for non-user tokens", f.repo.lookups)
	}
}

func TestLoadUser_UnmatchedAndExpired(t *testing.T) {
	f := newFixture(t)
	key := f.login(t)

	// Wrong type tag does not match.
	u, err := f.engine.LoadUser(context.Background(), domain.TypeAPI, key)
	if err != nil || u != nil {
		t.Fatalf("wrong-type lookup = (%v, %v), want (nil, nil)", u, err)
	}

	// Bogus token does not match.
	u, err = f.engine.LoadUser(context.Background(), domain.TypeWeb, "nosuchtoken")
	if err != nil || u != nil {
		t.Fatalf("bogus lookup = (%v, %v), want (nil, nil)", u, err)
	}

	// Past expiry the token silently stops resolving.
	f.advance(2 * time.Hour)
	u, err = f.engine.LoadUser(context.Background(), domain.TypeWeb, key)
	if err != nil || u != nil {
		t.Fatalf("expired lookup = (%v, %v), want (nil, nil)", u, err)
	}
}

func TestLoadUser_SlidingRefresh(t *testing.T) {
	f := newFixture(t)
	start := *f.clock
	key := f.login(t)

	// 3200s into a 3600s session: 80% consumed, refresh fires.
	f.advance(3200 * time.Second)
	u, err := f.engine.LoadUser(context.Background(), domain.TypeWeb, key)
	if err != nil || u == nil {
		t.Fatalf("LoadUser = (%v, %v)", u, err)
	}
	wantExpiry := start.Add((3200 + 3600) * time.Second)
	if !u.Session().ExpiresAt.Equal(wantExpiry) {
		t.Errorf("refreshed expiry = %v, want %v", u.Session().ExpiresAt, wantExpiry)
	}

	// 100s later the refreshed session is fresh again; expiry must not move.
	f.advance(100 * time.Second)
	u, err = f.engine.LoadUser(context.Background(), domain.TypeWeb, key)
	if err != nil || u == nil {
		t.Fatalf("LoadUser = (%v, %v)", u, err)
	}
	if !u.Session().ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expiry moved on fresh session: %v, want %v", u.Session().ExpiresAt, wantExpiry)
	}
}

func loadUser(t *testing.T, f *fixture, key string) *userdomain.User {
	t.Helper()
	u, err := f.engine.LoadUser(context.Background(), domain.TypeWeb, key)
	if err != nil || u == nil {
		t.Fatalf("LoadUser = (%v, %v)", u, err)
	}
	return u
}

func TestRequireHighSecurity_NoSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RequireHighSecurity(context.Background(), &userdomain.User{ID: "user-1"}, StepUpRequest{})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestRequireHighSecurity_ChallengesWithoutSubmission(t *testing.T) {
	f := newFixture(t)
	u := loadUser(t, f, f.login(t))
	ctx := writeguard.WithActor(context.Background(), u.ID)

	for _, req := range []StepUpRequest{
		{CancelURI: "/settings"},
		{IsSubmission: true, CancelURI: "/settings"}, // missing CSRF
	} {
		_, err := f.engine.RequireHighSecurity(ctx, u, req)
		var required *HighSecurityRequiredError
		if !errors.As(err, &required) {
			t.Fatalf("err = %v, want HighSecurityRequiredError", err)
		}
		if required.CancelURI != "/settings" || required.ChallengeFailed {
			t.Errorf("unexpected challenge payload: %+v", required)
		}
	}
	if f.verifier.calls != 0 {
		t.Errorf("verifier consulted %d times without a valid submission", f.verifier.calls)
	}
}

func TestRequireHighSecurity_EnterAndFastPath(t *testing.T) {
	f := newFixture(t)
	u := loadUser(t, f, f.login(t))
	ctx := writeguard.WithActor(context.Background(), u.ID)

	req := StepUpRequest{IsSubmission: true, ValidCSRF: true, Proof: "correct horse"}
	token, err := f.engine.RequireHighSecurity(ctx, u, req)
	if err != nil {
		t.Fatalf("RequireHighSecurity: %v", err)
	}
	wantUntil := f.clock.Add(15 * time.Minute)
	if !token.ExpiresAt.Equal(wantUntil) {
		t.Errorf("token expiry = %v, want %v", token.ExpiresAt, wantUntil)
	}
	if u.Session().HighSecurityUntil == nil || !u.Session().HighSecurityUntil.Equal(wantUntil) {
		t.Errorf("session window = %v, want %v", u.Session().HighSecurityUntil, wantUntil)
	}
	var entered bool
	for _, ev := range f.recorder.events {
		if ev.action == "session.hisec.enter" {
			entered = true
		}
	}
	if !entered {
		t.Error("entering high security was not audited")
	}

	// Inside the window the verifier is not consulted again.
	calls := f.verifier.calls
	f.advance(5 * time.Minute)
	if _, err := f.engine.RequireHighSecurity(ctx, u, StepUpRequest{}); err != nil {
		t.Fatalf("fast path: %v", err)
	}
	if f.verifier.calls != calls {
		t.Error("verifier consulted inside an open window")
	}

	// After the window closes a new challenge is required.
	f.advance(15 * time.Minute)
	_, err = f.engine.RequireHighSecurity(ctx, u, StepUpRequest{})
	var required *HighSecurityRequiredError
	if !errors.As(err, &required) {
		t.Fatalf("after window: err = %v, want HighSecurityRequiredError", err)
	}
}

func TestRequireHighSecurity_WrongProof(t *testing.T) {
	f := newFixture(t)
	u := loadUser(t, f, f.login(t))
	ctx := writeguard.WithActor(context.Background(), u.ID)

	req := StepUpRequest{IsSubmission: true, ValidCSRF: true, Proof: "wrong", CancelURI: "/away"}
	_, err := f.engine.RequireHighSecurity(ctx, u, req)
	var required *HighSecurityRequiredError
	if !errors.As(err, &required) {
		t.Fatalf("err = %v, want HighSecurityRequiredError", err)
	}
	if !required.ChallengeFailed {
		t.Error("ChallengeFailed not set on rejected proof")
	}
	if u.Session().HighSecurityUntil != nil {
		t.Error("window opened despite rejected proof")
	}
}

func TestRequireHighSecurity_VerifierBackendError(t *testing.T) {
	f := newFixture(t)
	u := loadUser(t, f, f.login(t))
	ctx := writeguard.WithActor(context.Background(), u.ID)
	f.verifier.err = errors.New("mfa backend down")

	_, err := f.engine.RequireHighSecurity(ctx, u, StepUpRequest{IsSubmission: true, ValidCSRF: true, Proof: "x"})
	var required *HighSecurityRequiredError
	if errors.As(err, &required) {
		t.Fatal("backend failure surfaced as a challenge instead of an error")
	}
	if err == nil {
		t.Fatal("expected error from verifier backend failure")
	}
}

func TestExitHighSecurity(t *testing.T) {
	f := newFixture(t)
	u := loadUser(t, f, f.login(t))
	ctx := writeguard.WithActor(context.Background(), u.ID)

	if _, err := f.engine.RequireHighSecurity(ctx, u, StepUpRequest{IsSubmission: true, ValidCSRF: true, Proof: "correct horse"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := f.engine.ExitHighSecurity(ctx, u, u.Session()); err != nil {
		t.Fatalf("ExitHighSecurity: %v", err)
	}
	if u.Session().HighSecurityUntil != nil {
		t.Error("window still open after exit")
	}
	exits := 0
	for _, ev := range f.recorder.events {
		if ev.action == "session.hisec.exit" {
			exits++
		}
	}
	if exits != 1 {
		t.Errorf("exit audited %d times, want 1", exits)
	}

	// Exiting again is a quiet no-op.
	if err := f.engine.ExitHighSecurity(ctx, u, u.Session()); err != nil {
		t.Fatalf("repeat exit: %v", err)
	}
	exits = 0
	for _, ev := range f.recorder.events {
		if ev.action == "session.hisec.exit" {
			exits++
		}
	}
	if exits != 1 {
		t.Errorf("exit audited %d times after no-op, want 1", exits)
	}
}

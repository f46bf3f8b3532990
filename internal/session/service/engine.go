// Package service implements the session engine: establishing sessions,
// resolving tokens to users, and the high security step-up window.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"collabforge/backend/internal/audit"
	auditdomain "collabforge/backend/internal/audit/domain"
	"collabforge/backend/internal/security"
	"collabforge/backend/internal/session/domain"
	sessionrepo "collabforge/backend/internal/session/repository"
	"collabforge/backend/internal/session/stepup"
	userdomain "collabforge/backend/internal/user/domain"
	"collabforge/backend/internal/writeguard"
)

var (
	// ErrNoSession is returned when a step-up operation is attempted on a user
	// that was not loaded through a session.
	ErrNoSession = errors.New("session: user has no attached session")
)

// UnknownSessionTypeError is returned when a session type has no configured TTL.
type UnknownSessionTypeError struct {
	Type string
}

func (e *UnknownSessionTypeError) Error() string {
	return fmt.Sprintf("session: unknown session type %q", e.Type)
}

// HighSecurityRequiredError is returned when an operation needs an open high
// security window and the request did not carry a successful step-up. The
// surface renders the challenge and offers CancelURI as the way out.
type HighSecurityRequiredError struct {
	CancelURI string
	// ChallengeFailed is set when a proof was submitted and rejected, so the
	// surface can distinguish a fresh challenge from a failed attempt.
	ChallengeFailed bool
}

func (e *HighSecurityRequiredError) Error() string {
	if e.ChallengeFailed {
		return "session: high security challenge failed"
	}
	return "session: high security window required"
}

// StepUpRequest describes the request attempting to enter high security.
type StepUpRequest struct {
	// IsSubmission is true for an explicit challenge submission (a POST), not
	// a page load that merely discovered elevation is needed.
	IsSubmission bool
	// ValidCSRF is true when the surface validated the request's CSRF token.
	// Step-up is never consumed off a forgeable request.
	ValidCSRF bool
	// Proof is the submitted step-up proof, passed to the Verifier.
	Proof string
	// CancelURI is where the surface sends the user if they abandon the
	// challenge.
	CancelURI string
}

// A session expiry is slid forward once more than 20% of its TTL has been
// consumed, i.e. when now + 80% of TTL passes the current expiry. Fresh
// sessions are left alone so routine traffic does not write on every request.
const (
	sessionRefreshNumerator   = 4
	sessionRefreshDenominator = 5
)

// Engine issues and resolves sessions and manages high security elevation.
type Engine struct {
	sessions sessionrepo.Repository
	audit    audit.Recorder
	hisec    *security.HighSecurityTokenProvider
	verifier stepup.Verifier

	ttls   map[string]time.Duration
	window time.Duration
	now    func() time.Time
}

// NewEngine returns a session engine. ttls maps session types to their TTL;
// window is the high security elevation window. recorder may be nil, in which
// case no audit events are written.
func NewEngine(
	sessions sessionrepo.Repository,
	recorder audit.Recorder,
	hisec *security.HighSecurityTokenProvider,
	verifier stepup.Verifier,
	ttls map[string]time.Duration,
	window time.Duration,
) *Engine {
	return &Engine{
		sessions: sessions,
		audit:    recorder,
		hisec:    hisec,
		verifier: verifier,
		ttls:     ttls,
		window:   window,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Establish creates a new session of sessionType for userID and returns the
// raw token the client will present. Only the token's hash is persisted.
//
// An empty userID establishes an anonymous session: a prefixed random token
// with no storage row and no audit event. Anonymous sessions carry state on
// the client only.
func (e *Engine) Establish(ctx context.Context, sessionType, userID string) (string, error) {
	key, err := security.GenerateSessionKey()
	if err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	if userID == "" {
		return domain.TokenForKind(domain.KindAnonymous, key), nil
	}

	ttl, ok := e.ttls[sessionType]
	if !ok {
		return "", &UnknownSessionTypeError{Type: sessionType}
	}

	now := e.now()
	s := &domain.Session{
		ID:        uuid.New().String(),
		TokenHash: security.HashToken(key),
		UserID:    userID,
		Type:      sessionType,
		StartedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	// The caller is mid-login and not yet an authenticated actor; the create
	// runs in an elevated scope bounded to this call.
	if err := e.sessions.Create(writeguard.Elevate(ctx), s); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	e.record(ctx, userID, auditdomain.ActionLogin, fmt.Sprintf(`{"session_type":%q}`, sessionType))
	return key, nil
}

// LoadUser resolves a raw session token of sessionType to its user. The token
// kind is classified before any storage access: anonymous, external, and
// unknown tokens resolve to no user without a lookup. Expired or unmatched
// tokens also resolve to (nil, nil); an error means a storage failure, never a
// bad token.
//
// A matched session that has consumed more than 20% of its TTL is slid
// forward to now + TTL. The refresh races harmlessly with concurrent
// requests: every writer moves the expiry to a nearby future instant.
func (e *Engine) LoadUser(ctx context.Context, sessionType, rawToken string) (*userdomain.User, error) {
	switch domain.KindOfToken(rawToken) {
	case domain.KindUser:
	default:
		return nil, nil
	}

	u, s, err := e.sessions.FindSessionAndUser(ctx, sessionType, security.HashToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if u == nil || s == nil {
		return nil, nil
	}

	if ttl, ok := e.ttls[sessionType]; ok {
		threshold := e.now().Add(ttl * sessionRefreshNumerator / sessionRefreshDenominator)
		if threshold.After(s.ExpiresAt) {
			fresh := e.now().Add(ttl)
			// The actor is not on ctx yet; the middleware installs it from
			// this very lookup. Refresh under a scoped elevation.
			if err := e.sessions.UpdateExpiry(writeguard.Elevate(ctx), s.ID, fresh); err != nil {
				log.Printf("session: expiry refresh failed for %s: %v", s.ID, err)
			} else {
				s.ExpiresAt = fresh
			}
		}
	}

	u.AttachSession(s)
	return u, nil
}

// RequireHighSecurity returns a capability token proving the user's session is
// inside its high security window, entering the window when the request
// carries a valid step-up submission. It returns *HighSecurityRequiredError
// when a challenge must be (re)rendered, and ErrNoSession when the user has no
// attached session.
func (e *Engine) RequireHighSecurity(ctx context.Context, u *userdomain.User, req StepUpRequest) (*security.HighSecurityToken, error) {
	if u == nil || !u.HasSession() {
		return nil, ErrNoSession
	}
	s := u.Session()
	now := e.now()

	if s.HighSecurityUntil != nil && s.HighSecurityUntil.After(now) {
		return e.hisec.Issue(s.ID, *s.HighSecurityUntil)
	}

	if !req.IsSubmission || !req.ValidCSRF {
		return nil, &HighSecurityRequiredError{CancelURI: req.CancelURI}
	}

	if err := e.verifier.Verify(ctx, u.ID, req.Proof); err != nil {
		if errors.Is(err, stepup.ErrChallengeFailed) {
			return nil, &HighSecurityRequiredError{CancelURI: req.CancelURI, ChallengeFailed: true}
		}
		return nil, fmt.Errorf("step-up verification: %w", err)
	}

	until := now.Add(e.window)
	if err := e.sessions.SetHighSecurityUntil(ctx, s.ID, &until); err != nil {
		return nil, fmt.Errorf("open high security window: %w", err)
	}
	s.HighSecurityUntil = &until
	e.record(ctx, u.ID, auditdomain.ActionEnterHighSecurity, fmt.Sprintf(`{"session_type":%q}`, s.Type))
	return e.hisec.Issue(s.ID, until)
}

// ExitHighSecurity closes the session's high security window. Exiting a
// session that is not elevated is a no-op; the exit is audited only when a
// window was actually open.
func (e *Engine) ExitHighSecurity(ctx context.Context, u *userdomain.User, s *domain.Session) error {
	if s == nil {
		return ErrNoSession
	}
	if s.HighSecurityUntil == nil {
		return nil
	}
	if err := e.sessions.SetHighSecurityUntil(ctx, s.ID, nil); err != nil {
		return fmt.Errorf("close high security window: %w", err)
	}
	s.HighSecurityUntil = nil
	var actorID string
	if u != nil {
		actorID = u.ID
	}
	e.record(ctx, actorID, auditdomain.ActionExitHighSecurity, fmt.Sprintf(`{"session_type":%q}`, s.Type))
	return nil
}

func (e *Engine) record(ctx context.Context, actorID, action, metadata string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, actorID, action, metadata)
}

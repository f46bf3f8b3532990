package repository

import (
	"context"
	"time"

	"collabforge/backend/internal/session/domain"
	userdomain "collabforge/backend/internal/user/domain"
)

// Repository defines persistence for sessions. All mutations require write
// permission on ctx (an authenticated actor or an elevated writeguard scope);
// the login path runs elevated because the caller is not yet authenticated.
type Repository interface {
	// Create persists a new session row.
	Create(ctx context.Context, s *domain.Session) error
	// FindSessionAndUser performs the joined lookup keyed by (type, token hash).
	// Expired sessions are unmatched. Returns (nil, nil, nil) when there is no
	// match; an error only for storage failures.
	FindSessionAndUser(ctx context.Context, sessionType, tokenHash string) (*userdomain.User, *domain.Session, error)
	// UpdateExpiry sets the session's expiry. Safe to race: the value is
	// monotonically increasing in practice and last-writer-wins is acceptable.
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	// SetHighSecurityUntil sets or clears (nil) the elevation window.
	SetHighSecurityUntil(ctx context.Context, id string, until *time.Time) error
}

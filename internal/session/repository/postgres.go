package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"collabforge/backend/internal/session/domain"
	userdomain "collabforge/backend/internal/user/domain"
	"collabforge/backend/internal/writeguard"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session to the database. The session must have ID and
// TokenHash set. Requires write permission on ctx.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token_hash, user_id, type, started_at, expires_at, high_security_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.TokenHash, s.UserID, s.Type, s.StartedAt, s.ExpiresAt, timeToNullTime(s.HighSecurityUntil))
	return err
}

// FindSessionAndUser loads the user and session in a single joined query keyed
// by (type, token hash). This runs on every request, so one round trip matters.
// Expired sessions do not match. Returns (nil, nil, nil) when unmatched.
func (r *PostgresRepository) FindSessionAndUser(ctx context.Context, sessionType, tokenHash string) (*userdomain.User, *domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			u.id, u.username, u.email, u.real_name, u.password_hash, u.is_admin, u.status, u.created_at, u.updated_at,
			s.id, s.user_id, s.type, s.started_at, s.expires_at, s.high_security_until
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.type = $1 AND s.token_hash = $2 AND s.expires_at > NOW()`,
		sessionType, tokenHash)

	var u userdomain.User
	var s domain.Session
	var status string
	var hisec sql.NullTime
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.RealName, &u.PasswordHash, &u.IsAdmin, &status, &u.CreatedAt, &u.UpdatedAt,
		&s.ID, &s.UserID, &s.Type, &s.StartedAt, &s.ExpiresAt, &hisec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	u.Status = userdomain.UserStatus(status)
	s.TokenHash = tokenHash
	s.HighSecurityUntil = nullTimeToPtr(hisec)
	return &u, &s, nil
}

// UpdateExpiry sets the session's expiry timestamp. Requires write permission on ctx.
func (r *PostgresRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET expires_at = $2 WHERE id = $1`, id, expiresAt)
	return err
}

// SetHighSecurityUntil sets or clears the session's elevation window.
// Requires write permission on ctx.
func (r *PostgresRepository) SetHighSecurityUntil(ctx context.Context, id string, until *time.Time) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET high_security_until = $2 WHERE id = $1`, id, timeToNullTime(until))
	return err
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

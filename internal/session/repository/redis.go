package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"collabforge/backend/internal/session/domain"
	userdomain "collabforge/backend/internal/user/domain"
	"collabforge/backend/internal/writeguard"
)

// UserFinder resolves the user half of the joined lookup for backends that
// cannot join, like Redis.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// RedisRepository stores sessions as JSON values with a Redis TTL equal to the
// session expiry, so expired sessions age out of the keyspace on their own.
// Rows are keyed by (type, token hash); a secondary id key supports the
// id-keyed updates the engine performs.
type RedisRepository struct {
	client *redis.Client
	users  UserFinder
	now    func() time.Time
}

// NewRedisRepository returns a session repository backed by the given Redis
// client, using users to complete session lookups.
func NewRedisRepository(client *redis.Client, users UserFinder) *RedisRepository {
	return &RedisRepository{
		client: client,
		users:  users,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type redisSession struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Type              string     `json:"type"`
	StartedAt         time.Time  `json:"started_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	HighSecurityUntil *time.Time `json:"high_security_until,omitempty"`
}

func sessionKey(sessionType, tokenHash string) string {
	return "session:" + sessionType + ":" + tokenHash
}

func sessionIDKey(id string) string {
	return "session:id:" + id
}

// Create persists the session. Requires write permission on ctx.
func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("create session: already expired")
	}
	return r.write(ctx, sessionKey(s.Type, s.TokenHash), &redisSession{
		ID:                s.ID,
		UserID:            s.UserID,
		Type:              s.Type,
		StartedAt:         s.StartedAt,
		ExpiresAt:         s.ExpiresAt,
		HighSecurityUntil: s.HighSecurityUntil,
	}, ttl)
}

// FindSessionAndUser looks up the session by (type, token hash) and resolves
// its user. Expired or missing sessions return (nil, nil, nil).
func (r *RedisRepository) FindSessionAndUser(ctx context.Context, sessionType, tokenHash string) (*userdomain.User, *domain.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(sessionType, tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lookup session: %w", err)
	}
	var rs redisSession
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return nil, nil, fmt.Errorf("decode session: %w", err)
	}
	if !rs.ExpiresAt.After(r.now()) {
		return nil, nil, nil
	}
	u, err := r.users.GetByID(ctx, rs.UserID)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		return nil, nil, nil
	}
	return u, &domain.Session{
		ID:                rs.ID,
		TokenHash:         tokenHash,
		UserID:            rs.UserID,
		Type:              rs.Type,
		StartedAt:         rs.StartedAt,
		ExpiresAt:         rs.ExpiresAt,
		HighSecurityUntil: rs.HighSecurityUntil,
	}, nil
}

// UpdateExpiry sets the session's expiry and refreshes the Redis TTL to match.
// Requires write permission on ctx.
func (r *RedisRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	return r.mutate(ctx, id, func(rs *redisSession) {
		rs.ExpiresAt = expiresAt
	})
}

// SetHighSecurityUntil sets or clears the session's elevation window.
// Requires write permission on ctx.
func (r *RedisRepository) SetHighSecurityUntil(ctx context.Context, id string, until *time.Time) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	return r.mutate(ctx, id, func(rs *redisSession) {
		rs.HighSecurityUntil = until
	})
}

// mutate loads the session by id, applies fn, and writes it back with a TTL
// derived from the (possibly updated) expiry. Missing sessions are a no-op:
// an id-keyed update against an aged-out session has nothing to extend.
func (r *RedisRepository) mutate(ctx context.Context, id string, fn func(*redisSession)) error {
	primary, err := r.client.Get(ctx, sessionIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve session id: %w", err)
	}
	raw, err := r.client.Get(ctx, primary).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	var rs redisSession
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	fn(&rs)
	ttl := rs.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.client.Del(ctx, primary, sessionIDKey(id)).Err()
	}
	return r.writeAt(ctx, primary, &rs, ttl)
}

func (r *RedisRepository) write(ctx context.Context, key string, rs *redisSession, ttl time.Duration) error {
	return r.writeAt(ctx, key, rs, ttl)
}

func (r *RedisRepository) writeAt(ctx context.Context, key string, rs *redisSession, ttl time.Duration) error {
	payload, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := r.client.Set(ctx, sessionIDKey(rs.ID), key, ttl).Err(); err != nil {
		return fmt.Errorf("save session id index: %w", err)
	}
	return nil
}

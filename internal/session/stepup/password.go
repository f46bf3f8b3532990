package stepup

import (
	"context"
	"fmt"

	"collabforge/backend/internal/security"
	userdomain "collabforge/backend/internal/user/domain"
)

// UserGetter loads a user by id. Satisfied by the user repository.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// PasswordVerifier accepts the account password as step-up proof.
type PasswordVerifier struct {
	users  UserGetter
	hasher *security.Hasher
}

// NewPasswordVerifier returns a Verifier that re-checks the user's password.
func NewPasswordVerifier(users UserGetter, hasher *security.Hasher) *PasswordVerifier {
	return &PasswordVerifier{users: users, hasher: hasher}
}

// Verify compares proof against the user's stored password hash.
func (v *PasswordVerifier) Verify(ctx context.Context, userID, proof string) error {
	u, err := v.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u == nil || u.PasswordHash == "" {
		return ErrChallengeFailed
	}
	if err := v.hasher.Compare(u.PasswordHash, []byte(proof)); err != nil {
		return ErrChallengeFailed
	}
	return nil
}

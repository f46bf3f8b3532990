package domain

import (
	"errors"
	"time"

	sessiondomain "collabforge/backend/internal/session/domain"
)

// User is the core user entity.
type User struct {
	ID           string
	Username     string
	Email        string
	RealName     string
	PasswordHash string // empty when the account has no local password
	IsAdmin      bool
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time

	session *sessiondomain.Session
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Username == "" {
		return errors.New("username is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// AttachSession binds the session the user was loaded through. Set by the
// session engine; not persisted with the user.
func (u *User) AttachSession(s *sessiondomain.Session) {
	u.session = s
}

// Session returns the attached session, or nil when the user was not loaded
// through a session lookup.
func (u *User) Session() *sessiondomain.Session {
	return u.session
}

// HasSession reports whether a session is attached.
func (u *User) HasSession() bool {
	return u.session != nil
}

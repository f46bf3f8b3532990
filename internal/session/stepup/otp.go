package stepup

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"collabforge/backend/internal/security"
)

const otpDigits = 6

// DefaultChallengeTTL bounds how long an issued code stays redeemable.
const DefaultChallengeTTL = 5 * time.Minute

// GenerateOTP returns a 6-digit numeric code (e.g. "123456").
// Uses crypto/rand for randomness.
func GenerateOTP() (string, error) {
	b := make([]byte, otpDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, otpDigits)
	for i := 0; i < otpDigits; i++ {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}

// SendFunc delivers an issued code to the user out of band (SMS, email).
type SendFunc func(ctx context.Context, userID, code string) error

type challenge struct {
	codeHash  string
	expiresAt time.Time
}

// OTPVerifier accepts a freshly issued one-time code as step-up proof. Only
// the code's SHA-256 hash is retained; codes are single use and expire after
// the challenge TTL.
type OTPVerifier struct {
	mu         sync.Mutex
	challenges map[string]challenge // keyed by user id

	ttl  time.Duration
	send SendFunc
	now  func() time.Time
}

// NewOTPVerifier returns a Verifier that issues and checks one-time codes.
// A non-positive ttl uses DefaultChallengeTTL.
func NewOTPVerifier(ttl time.Duration, send SendFunc) *OTPVerifier {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &OTPVerifier{
		challenges: make(map[string]challenge),
		ttl:        ttl,
		send:       send,
		now:        time.Now,
	}
}

// Challenge issues a new code for the user and delivers it through the send
// hook. A fresh challenge replaces any outstanding one.
func (v *OTPVerifier) Challenge(ctx context.Context, userID string) error {
	code, err := GenerateOTP()
	if err != nil {
		return err
	}
	if v.send != nil {
		if err := v.send(ctx, userID, code); err != nil {
			return err
		}
	}
	v.mu.Lock()
	v.challenges[userID] = challenge{
		codeHash:  security.HashToken(code),
		expiresAt: v.now().Add(v.ttl),
	}
	v.mu.Unlock()
	return nil
}

// Verify redeems the user's outstanding code. The challenge is consumed on
// success; wrong, missing, or expired codes fail with ErrChallengeFailed.
func (v *OTPVerifier) Verify(_ context.Context, userID, proof string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.challenges[userID]
	if !ok || v.now().After(c.expiresAt) {
		delete(v.challenges, userID)
		return ErrChallengeFailed
	}
	if !security.TokenHashEqual(proof, c.codeHash) {
		return ErrChallengeFailed
	}
	delete(v.challenges, userID)
	return nil
}

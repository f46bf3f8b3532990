package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, or expired.
	ErrInvalidToken = errors.New("invalid token")
)

// HighSecurityToken is a short-lived capability proving that, at the instant of
// issuance, the holder's session was inside its high-security window. It is
// never persisted; callers must re-check elevation on every sensitive
// operation rather than caching the token.
type HighSecurityToken struct {
	Value     string
	SessionID string
	ExpiresAt time.Time
}

// hisecClaims holds the JWT claims embedded in a high-security token.
type hisecClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// HighSecurityTokenProvider issues and validates high-security capability
// tokens as HS256-signed JWTs. The token's expiry equals the session's
// elevation window, so a token can never outlive the window it attests to.
type HighSecurityTokenProvider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewHighSecurityTokenProvider returns a provider signing with the given secret.
func NewHighSecurityTokenProvider(secret []byte, issuer string) *HighSecurityTokenProvider {
	return &HighSecurityTokenProvider{
		secret: secret,
		issuer: issuer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue signs a high-security token for the given session, expiring at until.
func (p *HighSecurityTokenProvider) Issue(sessionID string, until time.Time) (*HighSecurityToken, error) {
	claims := hisecClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(p.now()),
			ExpiresAt: jwt.NewNumericDate(until),
		},
		SessionID: sessionID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	value, err := t.SignedString(p.secret)
	if err != nil {
		return nil, err
	}
	return &HighSecurityToken{Value: value, SessionID: sessionID, ExpiresAt: until}, nil
}

// Validate parses and validates a high-security token (signature, exp, iss).
// Returns the session ID the token was issued for.
func (p *HighSecurityTokenProvider) Validate(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &hisecClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*hisecClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}

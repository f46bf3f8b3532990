package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// csrfCycle is the rotation window for anti-forgery tokens. A token issued in
// one cycle stays valid through the next, so a form rendered just before
// rotation still submits.
const csrfCycle = time.Hour

// CSRFProvider issues and validates per-session anti-forgery tokens. Tokens are
// an HMAC over the session token hash and a coarse time bucket, so they are
// bound to one session and age out without server-side state.
type CSRFProvider struct {
	secret []byte
	now    func() time.Time
}

// NewCSRFProvider returns a CSRFProvider keyed by secret.
func NewCSRFProvider(secret []byte) *CSRFProvider {
	return &CSRFProvider{secret: secret, now: func() time.Time { return time.Now().UTC() }}
}

// Issue returns the current anti-forgery token for the given session token hash.
func (p *CSRFProvider) Issue(sessionTokenHash string) string {
	return p.tokenAt(sessionTokenHash, p.now().Unix()/int64(csrfCycle.Seconds()))
}

// Validate reports whether the provided token matches the current or previous
// rotation cycle for the given session token hash.
func (p *CSRFProvider) Validate(sessionTokenHash, provided string) bool {
	bucket := p.now().Unix() / int64(csrfCycle.Seconds())
	for _, b := range []int64{bucket, bucket - 1} {
		expected := p.tokenAt(sessionTokenHash, b)
		if hmac.Equal([]byte(expected), []byte(provided)) {
			return true
		}
	}
	return false
}

func (p *CSRFProvider) tokenAt(sessionTokenHash string, bucket int64) string {
	mac := hmac.New(sha256.New, p.secret)
	fmt.Fprintf(mac, "%s:%d", sessionTokenHash, bucket)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

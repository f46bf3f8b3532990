// Package domain holds the session entity and the token-kind classifier.
package domain

import (
	"strings"
	"time"
)

// Session binds a hashed token to a user, with an expiry and an optional
// high-security elevation window. The raw token is never stored.
type Session struct {
	ID                string
	TokenHash         string
	UserID            string
	Type              string // session type tag, e.g. "web" or "api"
	StartedAt         time.Time
	ExpiresAt         time.Time
	HighSecurityUntil *time.Time // nil when not elevated
}

// Session type tags. TTLs per type are configuration, not constants; the
// engine validates the tag against its configured TTL map.
const (
	TypeWeb = "web"
	TypeAPI = "api"
)

// Kind classifies a session token without touching storage.
type Kind string

const (
	// KindUser is issued to normal users after a standard login.
	KindUser Kind = "U"
	// KindExternal is reserved for users with credentials but no full account.
	// Not issued yet; tokens of this kind never resolve to a user.
	KindExternal Kind = "X"
	// KindAnonymous is issued to logged-out users. Anonymous sessions exist
	// only as tokens, never as rows, so they carry no server-side state.
	KindAnonymous Kind = "A"
	// KindUnknown is any unrecognized prefix.
	KindUnknown Kind = "?"
)

// kindSeparator splits the kind prefix from the random component of a token.
const kindSeparator = "/"

// KindOfToken returns the kind encoded in a raw session token. Tokens without
// a separator are legacy user tokens. Total over all strings; never fails.
func KindOfToken(token string) Kind {
	prefix, _, found := strings.Cut(token, kindSeparator)
	if !found {
		return KindUser
	}
	switch Kind(prefix) {
	case KindAnonymous, KindUser, KindExternal:
		return Kind(prefix)
	default:
		return KindUnknown
	}
}

// TokenForKind prefixes a raw random component with the given kind.
func TokenForKind(kind Kind, random string) string {
	return string(kind) + kindSeparator + random
}

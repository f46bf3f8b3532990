package pager

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeCursor renders a keyset position as an opaque URL-safe token.
func EncodeCursor(k Key) string {
	raw, _ := json.Marshal(k)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by EncodeCursor. Tokens that do not
// decode, or decode to an empty position, fail with ErrBadCursor.
func DecodeCursor(cursor string) (Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	var k Key
	if err := json.Unmarshal(raw, &k); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if k.ID == "" {
		return Key{}, fmt.Errorf("%w: missing row id", ErrBadCursor)
	}
	return k, nil
}

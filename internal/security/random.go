package security

import (
	"crypto/rand"
)

// sessionKeyAlphabet is the set of characters session keys are drawn from.
// 32 symbols, so each character carries 5 bits of entropy; a 40-character key
// carries 200 bits.
const sessionKeyAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

// SessionKeyLength is the length of the random component of a session key.
const SessionKeyLength = 40

// GenerateSessionKey returns a new random session key of SessionKeyLength
// characters from a high-entropy alphabet. The raw key is handed to the client
// and must never be persisted; store HashToken(key) instead.
func GenerateSessionKey() (string, error) {
	return RandomCharacters(SessionKeyLength)
}

// RandomCharacters returns n random characters from the session key alphabet
// using crypto/rand.
func RandomCharacters(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = sessionKeyAlphabet[int(b[i])%len(sessionKeyAlphabet)]
	}
	return string(out), nil
}

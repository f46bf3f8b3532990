// Package stepup implements the identity re-verification required to enter a
// high security window on an existing session.
package stepup

import (
	"context"
	"errors"
)

// ErrChallengeFailed is returned when the supplied proof does not verify.
var ErrChallengeFailed = errors.New("stepup: challenge failed")

// Verifier checks a step-up proof for a user. Implementations decide what a
// proof is (a password, a one-time code). Verify returns ErrChallengeFailed
// when the proof is wrong and other errors only for backend failures.
type Verifier interface {
	Verify(ctx context.Context, userID, proof string) error
}

// Package writeguard gates storage mutations on request provenance. Writes are
// allowed when the request carries an authenticated actor, or inside an
// explicitly elevated scope for flows where no actor can exist yet (login
// issues a session before the caller is authenticated).
package writeguard

import (
	"context"
	"errors"
)

// ErrUnguardedWrite is returned by repositories when a mutation is attempted
// without an actor or an elevated scope. It indicates a programming error in
// the calling code, not a user-facing condition.
var ErrUnguardedWrite = errors.New("writeguard: mutation without actor or elevated scope")

type contextKey struct{ name string }

var (
	actorKey    = contextKey{"actor"}
	elevatedKey = contextKey{"elevated"}
)

// WithActor returns a context marked as carrying an authenticated actor.
// Set by the HTTP auth middleware once a session resolves to a user.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// Elevate returns a context with scoped elevated write permission. The
// permission extends exactly as far as the returned context is passed; callers
// must not store it beyond the operation that needs it.
func Elevate(ctx context.Context) context.Context {
	return context.WithValue(ctx, elevatedKey, true)
}

// Actor returns the authenticated actor ID from ctx and true if set.
func Actor(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorKey).(string)
	return v, ok
}

// Allowed reports whether ctx permits storage mutations: either an actor is
// present or the scope has been elevated.
func Allowed(ctx context.Context) bool {
	if v, ok := ctx.Value(elevatedKey).(bool); ok && v {
		return true
	}
	_, ok := Actor(ctx)
	return ok
}

// Check returns ErrUnguardedWrite when ctx does not permit mutations.
func Check(ctx context.Context) error {
	if !Allowed(ctx) {
		return ErrUnguardedWrite
	}
	return nil
}

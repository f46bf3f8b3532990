package engine

import (
	"context"

	"collabforge/backend/internal/policy"
)

// Evaluator decides object visibility using OPA or other engines.
type Evaluator interface {
	// CanView reports whether viewer may see obj under its view policy.
	CanView(ctx context.Context, viewer policy.Viewer, obj policy.Object) (bool, error)
}

// Package producer defines the interface for emitting audit events to a broker.
package producer

import (
	"context"

	"collabforge/backend/internal/audit/domain"
)

// Producer emits audit events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single audit event. Implementations may block briefly.
	// Returns an error only on write failure; callers typically log and ignore.
	Emit(ctx context.Context, event *domain.AuditLog) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}

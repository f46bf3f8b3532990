package repository

import (
	"context"

	"collabforge/backend/internal/audit/domain"
	"collabforge/backend/internal/pager"
)

// Repository defines persistence for the append-only audit log.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	Create(ctx context.Context, a *domain.AuditLog) error
	// PageEvents returns up to limit events positioned strictly after the given
	// keyset position under order. A nil position starts from the beginning.
	PageEvents(ctx context.Context, order pager.Order, after *pager.Key, limit int) ([]*domain.AuditLog, error)
}

package repository

import (
	"context"

	"collabforge/backend/internal/commit/domain"
	"collabforge/backend/internal/pager"
)

// Filters narrow a commit page to matching rows. Empty slices match everything.
type Filters struct {
	AuthorIDs     []string
	Repositories  []string
	AuditStatuses []string
}

// Lister pages commits under a composite keyset order.
type Lister interface {
	// PageCommits returns up to limit commits matching filters, strictly after
	// the given keyset position under order. A nil position starts from the
	// beginning.
	PageCommits(ctx context.Context, filters Filters, order pager.Order, after *pager.Key, limit int) ([]*domain.Commit, error)
}

// Repository adds point lookups and writes on top of paging.
type Repository interface {
	Lister
	// GetByIdentifier returns the commit with the given hash, or nil if not
	// found. An error means a storage failure only.
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Commit, error)
	// Create persists a new commit. Requires write permission on ctx.
	Create(ctx context.Context, c *domain.Commit) error
	// SetAuditStatus moves the commit to a new audit state. Requires write
	// permission on ctx.
	SetAuditStatus(ctx context.Context, id int64, status string) error
}

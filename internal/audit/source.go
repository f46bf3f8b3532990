package audit

import (
	"context"
	"time"

	"collabforge/backend/internal/audit/domain"
	auditrepo "collabforge/backend/internal/audit/repository"
	"collabforge/backend/internal/pager"
)

// EventOrder is the composite ordering for audit event pages: creation time
// with the event id as tiebreak.
func EventOrder(descending bool) pager.Order {
	return pager.Order{Column: "created_at", IDColumn: "id", Descending: descending}
}

// EventSource adapts the audit repository to the pager.
type EventSource struct {
	Repo  auditrepo.Repository
	Order pager.Order
}

func (s *EventSource) Page(ctx context.Context, after *pager.Key, limit int) ([]any, error) {
	events, err := s.Repo.PageEvents(ctx, s.Order, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(events))
	for i, e := range events {
		out[i] = e
	}
	return out, nil
}

func (s *EventSource) Key(row any) pager.Key {
	e := row.(*domain.AuditLog)
	return pager.Key{Value: e.CreatedAt.UTC().Format(time.RFC3339Nano), ID: e.ID}
}

package engine

import (
	"context"

	"collabforge/backend/internal/pager"
	"collabforge/backend/internal/policy"
)

// PageFilter adapts an Evaluator into the pager's visibility filter for one
// viewer. Rows that do not implement policy.Object are dropped rather than
// shown.
func PageFilter(eval Evaluator, viewer policy.Viewer) pager.FilterFunc {
	return func(ctx context.Context, rows []any) ([]any, error) {
		out := rows[:0:0]
		for _, row := range rows {
			obj, ok := row.(policy.Object)
			if !ok {
				continue
			}
			allowed, err := eval.CanView(ctx, viewer, obj)
			if err != nil {
				return nil, err
			}
			if allowed {
				out = append(out, row)
			}
		}
		return out, nil
	}
}

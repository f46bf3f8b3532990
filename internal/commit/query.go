// Package commit exposes the commit audit trail as a policy-aware paged query.
package commit

import (
	"context"
	"strconv"
	"time"

	"collabforge/backend/internal/commit/domain"
	commitrepo "collabforge/backend/internal/commit/repository"
	"collabforge/backend/internal/pager"
	"collabforge/backend/internal/policy"
	"collabforge/backend/internal/policy/engine"
)

// Composite orderings a commit query supports.
func OrderByCommittedAt(descending bool) pager.Order {
	return pager.Order{Column: "committed_at", IDColumn: "id", Descending: descending}
}

func OrderByIdentifier(descending bool) pager.Order {
	return pager.Order{Column: "identifier", IDColumn: "id", Descending: descending}
}

// Page is one bounded slice of the commit result set.
type Page struct {
	Commits    []*domain.Commit
	NextCursor string
	PrevCursor string
}

// Query builds and executes one policy-filtered, keyset-paged commit read.
// Zero or more filters narrow the set; results always honor the viewer's
// visibility.
type Query struct {
	lister  commitrepo.Lister
	eval    engine.Evaluator
	viewer  policy.Viewer
	filters commitrepo.Filters
	order   pager.Order
	pg      *pager.Pager
}

// NewQuery returns a commit query for the given viewer, newest first by
// default.
func NewQuery(lister commitrepo.Lister, eval engine.Evaluator, viewer policy.Viewer) *Query {
	return &Query{
		lister: lister,
		eval:   eval,
		viewer: viewer,
		order:  OrderByCommittedAt(true),
		pg:     pager.New(),
	}
}

// WithAuthors narrows the query to commits authored by the given users.
func (q *Query) WithAuthors(authorIDs ...string) *Query {
	q.filters.AuthorIDs = append(q.filters.AuthorIDs, authorIDs...)
	return q
}

// WithRepositories narrows the query to commits in the given repositories.
func (q *Query) WithRepositories(repositories ...string) *Query {
	q.filters.Repositories = append(q.filters.Repositories, repositories...)
	return q
}

// WithAuditStatus narrows the query to commits in the given audit states.
func (q *Query) WithAuditStatus(statuses ...string) *Query {
	q.filters.AuditStatuses = append(q.filters.AuditStatuses, statuses...)
	return q
}

// SetOrder replaces the result ordering.
func (q *Query) SetOrder(order pager.Order) *Query {
	q.order = order
	return q
}

// SetLimit sets the page size.
func (q *Query) SetLimit(n int) *Query {
	q.pg.SetLimit(n)
	return q
}

// SetCursor positions the query after a previously returned cursor.
func (q *Query) SetCursor(cursor string) error {
	return q.pg.SetCursor(cursor)
}

// Execute runs the query and returns one page visible to the viewer.
func (q *Query) Execute(ctx context.Context) (*Page, error) {
	if q.eval != nil {
		q.pg.SetFilter(engine.PageFilter(q.eval, q.viewer))
	}
	src := &source{lister: q.lister, filters: q.filters, order: q.order}
	raw, err := q.pg.Execute(ctx, src)
	if err != nil {
		return nil, err
	}
	page := &Page{
		Commits:    make([]*domain.Commit, len(raw.Rows)),
		NextCursor: raw.NextCursor,
		PrevCursor: raw.PrevCursor,
	}
	for i, row := range raw.Rows {
		page.Commits[i] = row.(*domain.Commit)
	}
	return page, nil
}

// source adapts the commit lister to the pager for one ordering.
type source struct {
	lister  commitrepo.Lister
	filters commitrepo.Filters
	order   pager.Order
}

func (s *source) Page(ctx context.Context, after *pager.Key, limit int) ([]any, error) {
	commits, err := s.lister.PageCommits(ctx, s.filters, s.order, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(commits))
	for i, c := range commits {
		out[i] = c
	}
	return out, nil
}

func (s *source) Key(row any) pager.Key {
	c := row.(*domain.Commit)
	value := c.Identifier
	if s.order.Column == "committed_at" {
		value = c.CommittedAt.UTC().Format(time.RFC3339Nano)
	}
	return pager.Key{Value: value, ID: formatID(c.ID)}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

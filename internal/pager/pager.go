// Package pager implements keyset pagination over mutable result sets.
//
// Every list-style query pages on a composite key: the primary ordering value
// plus the row's unique id as tiebreak, giving a total order even when the
// primary value has duplicates. Continuation cursors encode the composite key
// of the last returned row, so rows inserted or deleted outside the
// already-visited key range never shift, duplicate, or skip results. Offset
// pagination is deliberately not provided; it breaks under concurrent
// mutation.
package pager

import (
	"context"
	"errors"
	"fmt"
)

// DefaultLimit is the page size used when the caller does not set one.
const DefaultLimit = 100

// ErrBadCursor is returned when an incoming cursor cannot be decoded.
var ErrBadCursor = errors.New("pager: malformed cursor")

// Key is the composite keyset position of a row: the primary ordering value
// and the row's unique id. Values are carried as strings; sources are
// responsible for producing representations their storage can compare
// (timestamps, identifiers, numeric ids).
type Key struct {
	Value string `json:"v"`
	ID    string `json:"i"`
}

// Order defines a composite ordering: a primary column plus a unique id
// tiebreak, in one direction.
type Order struct {
	Column     string
	IDColumn   string
	Descending bool
}

// Reversed returns the same composite ordering in the opposite direction.
func (o Order) Reversed() Order {
	o.Descending = !o.Descending
	return o
}

// Source produces rows for one ordering. Page must return rows strictly after
// the given position (nil means the start of the result set), in the source's
// order, and at most limit of them. Key must return the composite position of
// a row Page produced.
type Source interface {
	Page(ctx context.Context, after *Key, limit int) ([]any, error)
	Key(row any) Key
}

// FilterFunc drops rows the viewer must not see. It receives rows in order and
// returns the surviving subset in the same order. The pager refills after
// filtering so callers still receive full pages.
type FilterFunc func(ctx context.Context, rows []any) ([]any, error)

// Page is one bounded slice of a result set.
type Page struct {
	Rows []any
	// NextCursor continues forward iteration; empty means the result set is
	// exhausted.
	NextCursor string
	// PrevCursor is the position of the first row of this page; present only
	// when the page was itself reached through a cursor. Callers iterate
	// backwards by re-running the query with the reversed ordering.
	PrevCursor string
}

// Pager executes keyset-paged reads against a Source. It issues bounded reads
// only, holds no locks, and never mutates the underlying result set; pages
// fetched concurrently by different callers are fully independent.
type Pager struct {
	limit  int
	after  *Key
	hadCur bool
	filter FilterFunc
}

// New returns a Pager with the default page size.
func New() *Pager {
	return &Pager{limit: DefaultLimit}
}

// SetLimit sets the page size. Non-positive values reset to the default.
func (p *Pager) SetLimit(n int) *Pager {
	if n <= 0 {
		n = DefaultLimit
	}
	p.limit = n
	return p
}

// SetCursor positions the pager strictly after the row the cursor encodes.
// An empty cursor means the start of the result set.
func (p *Pager) SetCursor(cursor string) error {
	if cursor == "" {
		p.after = nil
		p.hadCur = false
		return nil
	}
	key, err := DecodeCursor(cursor)
	if err != nil {
		return err
	}
	p.after = &key
	p.hadCur = true
	return nil
}

// SetFilter installs a visibility filter applied to every fetched batch.
func (p *Pager) SetFilter(f FilterFunc) *Pager {
	p.filter = f
	return p
}

// Execute assembles one page. It fetches limit+1 rows to detect whether more
// results exist, dropping the extra row and deriving the next cursor from the
// last row actually returned. When a filter is installed, it keeps fetching
// past filtered-out rows until the page is full or the source is exhausted.
func (p *Pager) Execute(ctx context.Context, src Source) (*Page, error) {
	var out []any
	after := p.after
	exhausted := false

	for len(out) <= p.limit && !exhausted {
		batch, err := src.Page(ctx, after, p.limit+1)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			exhausted = true
			break
		}
		if len(batch) <= p.limit {
			exhausted = true
		} else {
			batch = batch[:p.limit+1]
		}
		// Advance past the last fetched row before filtering, so a refill
		// continues beyond rows the filter dropped.
		last := src.Key(batch[len(batch)-1])
		after = &last

		if p.filter != nil {
			batch, err = p.filter(ctx, batch)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, batch...)
	}

	page := &Page{}
	if len(out) > p.limit {
		out = out[:p.limit]
		exhausted = false
	}
	page.Rows = out
	if !exhausted && len(out) > 0 {
		last := src.Key(out[len(out)-1])
		page.NextCursor = EncodeCursor(last)
	}
	if p.hadCur && len(out) > 0 {
		first := src.Key(out[0])
		page.PrevCursor = EncodeCursor(first)
	}
	return page, nil
}

// Limit returns the configured page size.
func (p *Pager) Limit() int {
	return p.limit
}

func (k Key) String() string {
	return fmt.Sprintf("(%s, %s)", k.Value, k.ID)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"collabforge/backend/internal/commit/domain"
	"collabforge/backend/internal/pager"
	"collabforge/backend/internal/writeguard"
)

const commitColumns = "id, identifier, repository, author_id, summary, audit_status, view_policy, committed_at"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a commit repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByIdentifier returns the commit with the given hash, or nil if not found.
func (r *PostgresRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Commit, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+commitColumns+`
		FROM commits WHERE identifier = $1`, identifier)
	c, err := scanCommit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// Create persists a new commit and fills in its generated id.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Commit) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	author := sql.NullString{String: c.AuthorID, Valid: c.AuthorID != ""}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO commits (identifier, repository, author_id, summary, audit_status, view_policy, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		c.Identifier, c.Repository, author, c.Summary, c.AuditStatus, c.Policy, c.CommittedAt,
	).Scan(&c.ID)
}

// SetAuditStatus moves the commit to a new audit state.
func (r *PostgresRepository) SetAuditStatus(ctx context.Context, id int64, status string) error {
	if err := writeguard.Check(ctx); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE commits SET audit_status = $2 WHERE id = $1`, id, status)
	return err
}

// PageCommits returns up to limit commits matching filters, strictly after the
// given keyset position under order.
func (r *PostgresRepository) PageCommits(ctx context.Context, filters Filters, order pager.Order, after *pager.Key, limit int) ([]*domain.Commit, error) {
	var where []string
	var args []any

	if len(filters.AuthorIDs) > 0 {
		args = append(args, filters.AuthorIDs)
		where = append(where, fmt.Sprintf("author_id = ANY($%d)", len(args)))
	}
	if len(filters.Repositories) > 0 {
		args = append(args, filters.Repositories)
		where = append(where, fmt.Sprintf("repository = ANY($%d)", len(args)))
	}
	if len(filters.AuditStatuses) > 0 {
		args = append(args, filters.AuditStatuses)
		where = append(where, fmt.Sprintf("audit_status = ANY($%d)", len(args)))
	}
	if after != nil {
		valueCast := ""
		if order.Column == "committed_at" {
			valueCast = "::timestamptz"
		}
		where = append(where, pager.WhereAfter(order, len(args)+1, valueCast, "::bigint"))
		args = append(args, after.Value, after.ID)
	}

	query := "SELECT " + commitColumns + " FROM commits"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += " " + pager.OrderClause(order) + fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommit(row rowScanner) (*domain.Commit, error) {
	var c domain.Commit
	var author sql.NullString
	if err := row.Scan(&c.ID, &c.Identifier, &c.Repository, &author, &c.Summary, &c.AuditStatus, &c.Policy, &c.CommittedAt); err != nil {
		return nil, err
	}
	c.AuthorID = author.String
	return &c, nil
}

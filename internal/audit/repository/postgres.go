package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"collabforge/backend/internal/audit/domain"
	"collabforge/backend/internal/pager"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, actor_id, action, ip, metadata, created_at
		FROM audit_logs WHERE id = $1`, id)
	a, err := scanAuditLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// Create persists the audit log. The entry must have ID and CreatedAt set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	actor := sql.NullString{String: a.ActorID, Valid: a.ActorID != ""}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, actor, a.Action, a.IP, meta, a.CreatedAt)
	return err
}

// PageEvents returns up to limit events strictly after the given keyset
// position under order. A nil position starts from the beginning.
func (r *PostgresRepository) PageEvents(ctx context.Context, order pager.Order, after *pager.Key, limit int) ([]*domain.AuditLog, error) {
	query := `
		SELECT id, actor_id, action, ip, metadata, created_at
		FROM audit_logs `
	args := []any{}
	if after != nil {
		query += "WHERE " + pager.WhereAfter(order, 1, "::timestamptz", "::text") + " "
		args = append(args, after.Value, after.ID)
	}
	query += pager.OrderClause(order) + fmt.Sprintf(" LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(row rowScanner) (*domain.AuditLog, error) {
	var a domain.AuditLog
	var actor, meta sql.NullString
	if err := row.Scan(&a.ID, &actor, &a.Action, &a.IP, &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.ActorID = actor.String
	a.Metadata = meta.String
	return &a, nil
}

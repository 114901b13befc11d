package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/alanmathew190/EventManagementSystem/internal/audit/domain"
)

const defaultListLimit = 50

// SQLiteRepository stores audit entries in the audit_log table of the local state database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns an audit log repository that uses the given db for persistence.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *SQLiteRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, resource, username, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Action, a.Resource, a.Username, a.Metadata, a.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// List returns entries newest first. IDs are ULIDs, so ordering by id follows creation order.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]*domain.AuditLog, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if f.Action != "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, action, resource, username, metadata, created_at FROM audit_log WHERE action = ? ORDER BY id DESC LIMIT ?`,
			f.Action, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, action, resource, username, metadata, created_at FROM audit_log ORDER BY id DESC LIMIT ?`,
			limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a       domain.AuditLog
			created string
		)
		if err := rows.Scan(&a.ID, &a.Action, &a.Resource, &a.Username, &a.Metadata, &created); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, &a)
	}
	return out, rows.Err()
}

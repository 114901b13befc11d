package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alanmathew190/EventManagementSystem/internal/security"
	"github.com/alanmathew190/EventManagementSystem/internal/session/domain"
)

const sessionKey = "session"

// SQLiteRepository stores the session as the "session" row of the kv table.
type SQLiteRepository struct {
	db     *sql.DB
	sealer *security.Sealer
}

// NewSQLiteRepository returns a kv-backed store. The kv table must exist (see internal/db/migrations).
func NewSQLiteRepository(db *sql.DB, sealer *security.Sealer) *SQLiteRepository {
	return &SQLiteRepository{db: db, sealer: sealer}
}

// Load returns the stored session, or nil if no row exists.
func (r *SQLiteRepository) Load(ctx context.Context) (*domain.Session, error) {
	var b []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, sessionKey).Scan(&b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decode(b, r.sealer)
}

// Save upserts the session row in a single statement.
func (r *SQLiteRepository) Save(ctx context.Context, s *domain.Session) error {
	b, err := encode(s, r.sealer)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sessionKey, b, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Clear deletes the session row.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, sessionKey)
	return err
}

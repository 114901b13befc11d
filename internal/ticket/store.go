package ticket

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Store caches approved tickets in the tickets table for offline display at the venue.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore returns a ticket cache over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Save inserts or replaces the cached ticket for (event, user).
func (s *Store) Save(ctx context.Context, t Ticket) error {
	if t.QRToken == "" {
		return ErrTicketLocked
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (event_id, username, event_title, event_date, place_name, qr_token, is_scanned, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id, username) DO UPDATE SET
		   event_title = excluded.event_title, event_date = excluded.event_date,
		   place_name = excluded.place_name, qr_token = excluded.qr_token,
		   is_scanned = excluded.is_scanned, cached_at = excluded.cached_at`,
		t.EventID, t.Username, t.EventTitle, formatTime(t.EventDate), t.PlaceName, t.QRToken,
		boolInt(t.IsScanned), s.now().UTC().Format(time.RFC3339Nano))
	return err
}

// Get returns the cached ticket, or nil if none is cached.
func (s *Store) Get(ctx context.Context, eventID int, username string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT event_id, username, event_title, event_date, place_name, qr_token, is_scanned, cached_at
		 FROM tickets WHERE event_id = ? AND username = ?`, eventID, username)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns username's cached tickets ordered by event date.
func (s *Store) List(ctx context.Context, username string) ([]*Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, username, event_title, event_date, place_name, qr_token, is_scanned, cached_at
		 FROM tickets WHERE username = ? ORDER BY event_date, event_id`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete drops username's cached tickets, e.g. on logout.
func (s *Store) Delete(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE username = ?`, username)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(sc scanner) (*Ticket, error) {
	var (
		t            Ticket
		date, cached string
		scanned      int
	)
	if err := sc.Scan(&t.EventID, &t.Username, &t.EventTitle, &date, &t.PlaceName, &t.QRToken, &scanned, &cached); err != nil {
		return nil, err
	}
	t.EventDate, _ = time.Parse(time.RFC3339Nano, date)
	t.CachedAt, _ = time.Parse(time.RFC3339Nano, cached)
	t.IsScanned = scanned != 0
	return &t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

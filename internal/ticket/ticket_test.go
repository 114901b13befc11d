package ticket

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alanmathew190/EventManagementSystem/internal/db/migrate"
	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
)

func approvedEntry() domain.MyEvent {
	return domain.MyEvent{
		Event: domain.Event{
			ID: 7, Title: "Gig", PlaceName: "Town Hall",
			Date: time.Date(2026, 11, 5, 19, 0, 0, 0, time.UTC),
		},
		RegistrationID: 3,
		IsApproved:     true,
		IsScanned:      true,
		QRToken:        "qr-7-3",
	}
}

func TestFromMyEvent(t *testing.T) {
	tk, err := FromMyEvent(approvedEntry(), "alice")
	if err != nil {
		t.Fatalf("FromMyEvent: %v", err)
	}
	if tk.QRToken != "qr-7-3" || tk.EventID != 7 || tk.Username != "alice" || !tk.IsScanned {
		t.Errorf("ticket = %+v", tk)
	}
}

func TestFromMyEvent_Locked(t *testing.T) {
	testCases := []struct {
		name string
		m    domain.MyEvent
	}{
		{"pending payment", domain.MyEvent{QRToken: "x"}},
		{"payment submitted", domain.MyEvent{IsPaid: true, QRToken: "x"}},
		{"approved without token", domain.MyEvent{IsApproved: true}},
	}
	for _, tc := range testCases {
		if _, err := FromMyEvent(tc.m, "alice"); !errors.Is(err, ErrTicketLocked) {
			t.Errorf("%s: err = %v, want ErrTicketLocked", tc.name, err)
		}
	}
}

func TestWriteTerminal(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTerminal(&buf, Ticket{QRToken: "qr-7-3"}); err != nil {
		t.Fatalf("WriteTerminal: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected QR output")
	}
	if err := WriteTerminal(&buf, Ticket{}); !errors.Is(err, ErrTicketLocked) {
		t.Errorf("empty token err = %v", err)
	}
}

func TestWriteToken(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteToken(&buf, Ticket{QRToken: "qr-7-3"}); err != nil {
		t.Fatalf("WriteToken: %v", err)
	}
	if buf.String() != "qr-7-3\n" {
		t.Errorf("output = %q", buf.String())
	}
	if err := WriteToken(&buf, Ticket{}); !errors.Is(err, ErrTicketLocked) {
		t.Errorf("empty token err = %v", err)
	}
}

func TestWritePNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tickets")
	path, err := WritePNG(dir, Ticket{EventID: 7, QRToken: "qr-7-3"})
	if err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	if filepath.Base(path) != "ticket-7.png" {
		t.Errorf("path = %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("\x89PNG")) {
		t.Error("file is not a PNG")
	}
}

func TestStore_SaveGetList(t *testing.T) {
	ctx := context.Background()
	conn, err := migrate.OpenMigrated(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenMigrated: %v", err)
	}
	defer conn.Close()
	s := NewStore(conn)

	tk, _ := FromMyEvent(approvedEntry(), "alice")
	if err := s.Save(ctx, tk); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tk.IsScanned = false
	tk.PlaceName = "Annex"
	if err := s.Save(ctx, tk); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, err := s.Get(ctx, 7, "alice")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.PlaceName != "Annex" || got.IsScanned || !got.EventDate.Equal(tk.EventDate) || got.CachedAt.IsZero() {
		t.Errorf("cached = %+v", got)
	}

	missing, err := s.Get(ctx, 99, "alice")
	if err != nil || missing != nil {
		t.Errorf("missing = %v, %v", missing, err)
	}

	list, err := s.List(ctx, "alice")
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
	if err := s.Delete(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	list, _ = s.List(ctx, "alice")
	if len(list) != 0 {
		t.Errorf("after Delete len = %d", len(list))
	}
}

func TestStore_SaveLockedTicket(t *testing.T) {
	if err := NewStore(nil).Save(context.Background(), Ticket{EventID: 1}); !errors.Is(err, ErrTicketLocked) {
		t.Errorf("err = %v, want ErrTicketLocked", err)
	}
}

func TestStore_SaveError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	mock.ExpectExec("INSERT INTO tickets").WillReturnError(errors.New("disk I/O error"))

	err = NewStore(conn).Save(context.Background(), Ticket{EventID: 1, Username: "a", QRToken: "q"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

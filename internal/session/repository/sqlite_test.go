package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alanmathew190/EventManagementSystem/internal/db/migrate"
)

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := migrate.OpenMigrated(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenMigrated: %v", err)
	}
	defer conn.Close()
	r := NewSQLiteRepository(conn, nil)

	got, err := r.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("Load empty = %+v, %v; want nil, nil", got, err)
	}
	if err := r.Save(ctx, testSession()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	updated := testSession()
	updated.AccessToken = "access-2"
	if err := r.Save(ctx, updated); err != nil {
		t.Fatalf("Save (upsert): %v", err)
	}
	got, err = r.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AccessToken != "access-2" || got.RefreshToken != "refresh-1" {
		t.Errorf("Load = %+v, want upserted session", got)
	}
	if err := r.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := r.Load(ctx); got != nil {
		t.Errorf("Load after Clear = %+v, want nil", got)
	}
}

func TestSQLiteRepository_SaveError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()
	mock.ExpectExec("INSERT INTO kv").WillReturnError(errors.New("disk full"))

	r := NewSQLiteRepository(conn, nil)
	if err := r.Save(context.Background(), testSession()); err == nil {
		t.Fatal("Save should surface the database error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestSQLiteRepository_LoadCorrupt(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()
	mock.ExpectQuery("SELECT value FROM kv").
		WithArgs("session").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("{broken")))

	r := NewSQLiteRepository(conn, nil)
	if _, err := r.Load(context.Background()); err != ErrCorrupt {
		t.Errorf("Load: want ErrCorrupt, got %v", err)
	}
}

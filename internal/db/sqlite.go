package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Open opens the local SQLite state database at path, creating its directory (0700) when
// needed. Caller must call Close when done.
func Open(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("db: path is empty")
	}
	if err := EnsureDir(path); err != nil {
		return nil, err
	}
	db, err := sql.Open(DriverName, path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureDir creates the directory holding the database file at path.
func EnsureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o700)
}

// DSN returns the golang-migrate URL for the SQLite database at path.
func DSN(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	return "sqlite://" + path
}

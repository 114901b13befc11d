package repository

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alanmathew190/EventManagementSystem/internal/security"
	"github.com/alanmathew190/EventManagementSystem/internal/session/domain"
)

// FileRepository stores the session as JSON in a single 0600 file, optionally sealed.
type FileRepository struct {
	path   string
	sealer *security.Sealer
}

// NewFileRepository returns a file-backed store at path. If sealer is nil the file holds plain JSON.
func NewFileRepository(path string, sealer *security.Sealer) *FileRepository {
	return &FileRepository{path: path, sealer: sealer}
}

// Load returns the stored session, or nil if the file does not exist.
func (r *FileRepository) Load(ctx context.Context) (*domain.Session, error) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return decode(b, r.sealer)
}

// Save writes to a temp file in the same directory and renames it over the target.
func (r *FileRepository) Save(ctx context.Context, s *domain.Session) error {
	b, err := encode(s, r.sealer)
	if err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, r.path)
}

// Clear removes the session file.
func (r *FileRepository) Clear(ctx context.Context) error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

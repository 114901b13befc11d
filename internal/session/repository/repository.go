package repository

import (
	"context"
	"errors"

	"github.com/alanmathew190/EventManagementSystem/internal/session/domain"
)

var (
	// ErrCorrupt is returned when a stored session cannot be decoded.
	ErrCorrupt = errors.New("session store: stored session is corrupt")
	// ErrSealed is returned when a stored session is sealed and the configured passphrase
	// (or its absence) cannot open it. The stored bytes are left untouched.
	ErrSealed = errors.New("session store: stored session is sealed with another passphrase")
)

// Repository persists the single client session. Only the session manager writes it.
type Repository interface {
	// Load returns the stored session, or nil if none is stored.
	Load(ctx context.Context) (*domain.Session, error)
	// Save replaces the stored session atomically.
	Save(ctx context.Context, s *domain.Session) error
	// Clear removes the stored session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

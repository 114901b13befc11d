package repository

import (
	"context"

	"github.com/alanmathew190/EventManagementSystem/internal/audit/domain"
)

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	Action string
	Limit  int
}

// Repository defines persistence for audit logs. The trail is append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// List returns entries newest first.
	List(ctx context.Context, f Filter) ([]*domain.AuditLog, error)
}

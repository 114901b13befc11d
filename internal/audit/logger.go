package audit

import (
	"context"
	"log"
	"time"

	"github.com/alanmathew190/EventManagementSystem/internal/audit/domain"
	auditrepo "github.com/alanmathew190/EventManagementSystem/internal/audit/repository"
)

// AuditLogger writes a single audit event with explicit action/resource. Used by the session
// manager and the request pipeline. LogEvent is best-effort: failures are logged and do not
// affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, username, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
	now  func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. A nil repo makes LogEvent a no-op.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo, now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, username, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:        NewID(),
		Action:    action,
		Resource:  resource,
		Username:  username,
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}

// Recent returns the newest entries, optionally filtered by action.
func (l *Logger) Recent(ctx context.Context, action string, limit int) ([]*domain.AuditLog, error) {
	if l == nil || l.repo == nil {
		return nil, nil
	}
	return l.repo.List(ctx, auditrepo.Filter{Action: action, Limit: limit})
}

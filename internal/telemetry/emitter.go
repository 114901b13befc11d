package telemetry

import (
	"context"
	"time"
)

// Event is a client lifecycle event (login, refresh, forced logout, check-in...).
type Event struct {
	Type      string
	Username  string
	Source    string
	Attrs     map[string]string
	CreatedAt time.Time
}

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

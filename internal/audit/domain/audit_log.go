package domain

import "time"

// AuditLog is one entry of the local audit trail.
type AuditLog struct {
	ID        string
	Action    string
	Resource  string
	Username  string
	Metadata  string
	CreatedAt time.Time
}

package domain

import "time"

// AuditEntry is one row in the append-only audit trail. Payload must be
// redacted before it reaches the store; no entry is ever mutated or
// deleted by this core.
type AuditEntry struct {
	ID         string
	TenantID   string
	EventType  string
	EntityType string
	EntityID   string
	Actor      string
	Payload    map[string]any
	CreatedAt  time.Time
}

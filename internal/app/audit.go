package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/neomorfeo/bookiq/internal/domain"
	"github.com/neomorfeo/bookiq/internal/redact"
)

// AuditRecorder writes redacted entries to the append-only audit trail.
// Every payload passes through the redactor before it reaches the store;
// there is no unredacted path.
type AuditRecorder struct {
	store  domain.AuditStore
	clock  domain.Clock
	logger *slog.Logger
}

// NewAuditRecorder creates a recorder writing to store.
func NewAuditRecorder(store domain.AuditStore, clk domain.Clock, logger *slog.Logger) *AuditRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRecorder{store: store, clock: clk, logger: logger}
}

// Record appends one audit entry. A store failure is logged and swallowed:
// auditing must never fail the operation being audited.
func (r *AuditRecorder) Record(ctx context.Context, tenantID, eventType, entityType, entityID, actor string, payload map[string]any) {
	entry := domain.AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Payload:    redact.Map(payload),
		CreatedAt:  r.clock.Now(),
	}

	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "audit append failed",
			"tenant_id", tenantID,
			"event_type", eventType,
			"error", err,
		)
	}
}

// RecentEntries returns a tenant's newest audit entries for the admin surface.
func (r *AuditRecorder) RecentEntries(ctx context.Context, tenantID string, limit int) ([]domain.AuditEntry, error) {
	return r.store.ListRecent(ctx, tenantID, limit)
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// Append inserts an audit entry. There is deliberately no update or delete
// path for audit_log rows anywhere in this package.
func (s *Store) Append(ctx context.Context, e domain.AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshaling audit payload: %w", err)
	}
	if e.Payload == nil {
		payload = []byte(`{}`)
	}

	var entityID any
	if e.EntityID != "" {
		entityID = e.EntityID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, tenant_id, event_type, entity_type, entity_id, actor, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.EventType, e.EntityType, entityID, e.Actor,
		string(payload), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListRecent returns a tenant's newest audit entries, newest first.
func (s *Store) ListRecent(ctx context.Context, tenantID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, event_type, entity_type, entity_id, actor, payload, created_at
		 FROM audit_log WHERE tenant_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var entityID sql.NullString
		var payload, createdAt string

		err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &e.EntityType,
			&entityID, &e.Actor, &payload, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.EntityID = entityID.String
		e.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshaling audit payload: %w", err)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

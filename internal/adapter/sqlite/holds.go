package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// Create inserts a hold after verifying no unexpired hold overlaps the
// slot. The overlap check and insert share a transaction, and the unique
// (tenant_id, slot_start, slot_end) index backstops exact duplicates, so
// double-booking is structurally impossible rather than merely unlikely.
func (s *Store) Create(ctx context.Context, h domain.AvailabilityHold) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning hold transaction: %w", err)
	}
	defer tx.Rollback()

	var overlapping int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM availability_holds
		 WHERE tenant_id = ? AND slot_start < ? AND slot_end > ? AND expires_at > ?`,
		h.TenantID, formatTime(h.SlotEnd), formatTime(h.SlotStart), formatTime(h.CreatedAt),
	).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("checking hold overlap: %w", err)
	}
	if overlapping > 0 {
		return &domain.SlotConflictError{
			TenantID:  h.TenantID,
			SlotStart: h.SlotStart,
			SlotEnd:   h.SlotEnd,
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO availability_holds (id, tenant_id, slot_start, slot_end, session_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.TenantID, formatTime(h.SlotStart), formatTime(h.SlotEnd),
		h.SessionID, formatTime(h.ExpiresAt), formatTime(h.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.SlotConflictError{
				TenantID:  h.TenantID,
				SlotStart: h.SlotStart,
				SlotEnd:   h.SlotEnd,
			}
		}
		return fmt.Errorf("inserting hold: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing hold: %w", err)
	}
	return nil
}

// Delete removes a hold, typically because its booking committed.
func (s *Store) Delete(ctx context.Context, id, tenantID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM availability_holds WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("deleting hold: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

// DeleteExpired removes lapsed holds and returns them so the caller can
// publish expiry events.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) ([]domain.AvailabilityHold, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning expiry transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, tenant_id, slot_start, slot_end, session_id, expires_at, created_at
		 FROM availability_holds WHERE expires_at <= ?
		 ORDER BY expires_at ASC`,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("selecting expired holds: %w", err)
	}

	var holds []domain.AvailabilityHold
	for rows.Next() {
		var h domain.AvailabilityHold
		var slotStart, slotEnd, expiresAt, createdAt string
		if err := rows.Scan(&h.ID, &h.TenantID, &slotStart, &slotEnd, &h.SessionID, &expiresAt, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning expired hold: %w", err)
		}
		h.SlotStart = parseTime(slotStart)
		h.SlotEnd = parseTime(slotEnd)
		h.ExpiresAt = parseTime(expiresAt)
		h.CreatedAt = parseTime(createdAt)
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired holds: %w", err)
	}

	for _, h := range holds {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM availability_holds WHERE id = ?`, h.ID,
		); err != nil {
			return nil, fmt.Errorf("deleting expired hold %s: %w", h.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing expiry: %w", err)
	}
	return holds, nil
}

package domain

import "time"

// AvailabilityHold is an exclusive, time-bounded claim on a calendar slot.
// It prevents double-booking while a user completes a multi-turn booking
// flow; it is deleted when the booking commits or when it expires.
type AvailabilityHold struct {
	ID        string
	TenantID  string
	SlotStart time.Time
	SlotEnd   time.Time
	SessionID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewHold creates a hold on the given slot that expires ttl from now.
func NewHold(id, tenantID, sessionID string, slotStart, slotEnd time.Time, ttl time.Duration, now time.Time) AvailabilityHold {
	return AvailabilityHold{
		ID:        id,
		TenantID:  tenantID,
		SlotStart: slotStart,
		SlotEnd:   slotEnd,
		SessionID: sessionID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// Expired reports whether the hold has lapsed at the given instant.
func (h AvailabilityHold) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// BusyRange is a busy interval in epoch milliseconds, as returned by the
// external calendar provider. Cache-only: never persisted, and correctness
// only requires it to be stale by at most the cache TTL.
type BusyRange struct {
	StartMs int64 `json:"start"`
	EndMs   int64 `json:"end"`
}

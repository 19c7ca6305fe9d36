package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neomorfeo/bookiq/internal/busycache"
	"github.com/neomorfeo/bookiq/internal/domain"
)

// DefaultHoldTTL is applied when a caller does not specify how long a hold
// should live.
const DefaultHoldTTL = 10 * time.Minute

// HoldService manages exclusive slot holds for in-flight booking sessions.
// Every mutation invalidates the tenant's busy-range cache, and expiry
// publishes HoldExpired so reaction handlers can follow up.
type HoldService struct {
	holds  domain.HoldStore
	bus    domain.EventBus
	cache  *busycache.Cache
	clock  domain.Clock
	logger *slog.Logger
}

// NewHoldService creates a hold service.
func NewHoldService(holds domain.HoldStore, bus domain.EventBus, cache *busycache.Cache, clk domain.Clock, logger *slog.Logger) *HoldService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HoldService{holds: holds, bus: bus, cache: cache, clock: clk, logger: logger}
}

// Acquire places a hold on the slot for the session. It returns a
// SlotConflictError when an unexpired hold already covers any part of the
// slot.
func (s *HoldService) Acquire(ctx context.Context, tenantID, sessionID string, slotStart, slotEnd time.Time, ttl time.Duration) (domain.AvailabilityHold, error) {
	if !slotEnd.After(slotStart) {
		return domain.AvailabilityHold{}, errors.New("slot end must be after slot start")
	}
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}

	hold := domain.NewHold(uuid.NewString(), tenantID, sessionID, slotStart, slotEnd, ttl, s.clock.Now())
	if err := s.holds.Create(ctx, hold); err != nil {
		return domain.AvailabilityHold{}, err
	}
	s.cache.Invalidate(tenantID)

	s.logger.DebugContext(ctx, "hold acquired",
		"tenant_id", tenantID,
		"hold_id", hold.ID,
		"expires_at", hold.ExpiresAt,
	)
	return hold, nil
}

// Convert removes a hold whose booking committed. The slot stays occupied,
// now by the appointment instead of the hold.
func (s *HoldService) Convert(ctx context.Context, holdID, tenantID string) error {
	if err := s.holds.Delete(ctx, holdID, tenantID); err != nil {
		return fmt.Errorf("converting hold: %w", err)
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// Release removes a hold whose session abandoned the flow, freeing the slot
// early instead of waiting for the TTL.
func (s *HoldService) Release(ctx context.Context, holdID, tenantID string) error {
	if err := s.holds.Delete(ctx, holdID, tenantID); err != nil {
		return fmt.Errorf("releasing hold: %w", err)
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// ExpireDue sweeps lapsed holds, publishing HoldExpired for each. Hosts
// call this on a timer.
func (s *HoldService) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.holds.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired holds: %w", err)
	}

	for _, hold := range expired {
		s.cache.Invalidate(hold.TenantID)
		s.bus.Publish(ctx, domain.HoldExpired{
			EventMeta: domain.EventMeta{TenantID: hold.TenantID, Timestamp: now},
			HoldID:    hold.ID,
			SessionID: hold.SessionID,
			SlotStart: hold.SlotStart,
			SlotEnd:   hold.SlotEnd,
		})
	}
	return len(expired), nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/bookiq/internal/busycache"
	"github.com/neomorfeo/bookiq/internal/domain"
)

// AvailabilityService answers busy-range queries against the external
// calendar, fronted by the bounded-TTL cache. Answers may be stale by at
// most the cache TTL; holds, not this cache, are the double-booking guard.
type AvailabilityService struct {
	provider domain.CalendarProvider
	cache    *busycache.Cache
	logger   *slog.Logger
}

// NewAvailabilityService creates the service.
func NewAvailabilityService(provider domain.CalendarProvider, cache *busycache.Cache, logger *slog.Logger) *AvailabilityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AvailabilityService{provider: provider, cache: cache, logger: logger}
}

// BusyRanges returns the tenant's busy intervals in the window, from cache
// when a fresh entry exists.
func (s *AvailabilityService) BusyRanges(ctx context.Context, tenantID string, from, to time.Time) ([]domain.BusyRange, error) {
	if ranges, ok := s.cache.Get(tenantID, from, to); ok {
		return ranges, nil
	}

	ranges, err := s.provider.FreeBusy(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying calendar: %w", err)
	}
	s.cache.Set(tenantID, from, to, ranges)
	return ranges, nil
}

// SlotFree reports whether no busy interval overlaps the slot.
func (s *AvailabilityService) SlotFree(ctx context.Context, tenantID string, slotStart, slotEnd time.Time) (bool, error) {
	ranges, err := s.BusyRanges(ctx, tenantID, slotStart, slotEnd)
	if err != nil {
		return false, err
	}

	startMs := slotStart.UnixMilli()
	endMs := slotEnd.UnixMilli()
	for _, r := range ranges {
		if r.StartMs < endMs && r.EndMs > startMs {
			return false, nil
		}
	}
	return true, nil
}

// Package busycache caches external-calendar busy intervals per tenant and
// time window. It is process-local; staleness is bounded by the TTL and no
// correctness-critical decision may depend on its contents.
package busycache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neomorfeo/bookiq/internal/domain"
)

type entry struct {
	ranges    []domain.BusyRange
	expiresAt time.Time
}

// Cache is a TTL cache of busy ranges keyed by tenant and minute-floored
// query window, so near-duplicate queries coalesce onto one entry.
type Cache struct {
	mu      sync.Mutex
	clock   domain.Clock
	ttl     time.Duration
	entries map[string]entry
}

// New creates a cache whose entries live for ttl.
func New(clk domain.Clock, ttl time.Duration) *Cache {
	return &Cache{
		clock:   clk,
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

func key(tenantID string, from, to time.Time) string {
	return tenantID + "|" +
		strconv.FormatInt(from.Truncate(time.Minute).Unix(), 10) + "|" +
		strconv.FormatInt(to.Truncate(time.Minute).Unix(), 10)
}

// Get returns the cached ranges for the window, or false on a miss.
// Expired entries are evicted lazily here.
func (c *Cache) Get(tenantID string, from, to time.Time) ([]domain.BusyRange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(tenantID, from, to)
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, k)
		return nil, false
	}
	return e.ranges, true
}

// Set stores the ranges for the window with an absolute expiry of now+TTL.
func (c *Cache) Set(tenantID string, from, to time.Time, ranges []domain.BusyRange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key(tenantID, from, to)] = entry{
		ranges:    ranges,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// Invalidate drops every entry for the tenant. Deliberately coarse: any
// write that could change the calendar clears the whole tenant, trading
// hit-rate for correctness.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := tenantID + "|"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

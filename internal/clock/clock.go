// Package clock provides the time sources behind domain.Clock: the real
// system clock for production and a manually advanced fake for tests.
package clock

import (
	"sync"
	"time"

	"github.com/neomorfeo/bookiq/internal/domain"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns a Clock backed by time.Now, in UTC.
func System() domain.Clock { return systemClock{} }

// Fake is a Clock whose time only moves when a test advances it.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// Compile-time check: Fake implements domain.Clock.
var _ domain.Clock = (*Fake)(nil)

// NewFake creates a fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set jumps the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

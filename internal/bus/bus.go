// Package bus is the in-process domain event bus. Delivery is synchronous
// and best-effort: a handler error or panic is logged and contained, never
// propagated to the publisher or to sibling handlers, and events are not
// persisted or redelivered.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// historySize bounds the recent-events ring buffer.
const historySize = 100

// Bus implements domain.EventBus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventName][]domain.EventHandler
	history  []domain.Event
	next     int
	logger   *slog.Logger
}

// Compile-time check: Bus implements domain.EventBus.
var _ domain.EventBus = (*Bus)(nil)

// New creates an empty bus logging handler failures to logger.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[domain.EventName][]domain.EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the named event. Multiple handlers per
// name fan out in registration order.
func (b *Bus) Subscribe(name domain.EventName, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Publish records the event and synchronously notifies every handler
// registered for its name.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.record(event)

	b.mu.RLock()
	handlers := b.handlers[event.Name()]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, event, handler)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, handler domain.EventHandler) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return handler(ctx, event)
	}()

	if err != nil {
		b.logger.ErrorContext(ctx, "event handler failed",
			"event", event.Name(),
			"tenant_id", event.Tenant(),
			"error", err,
		)
	}
}

func (b *Bus) record(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) < historySize {
		b.history = append(b.history, event)
		return
	}
	b.history[b.next] = event
	b.next = (b.next + 1) % historySize
}

// Recent returns the last published events, oldest first.
func (b *Bus) Recent() []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Event, 0, len(b.history))
	if len(b.history) < historySize {
		return append(out, b.history...)
	}
	out = append(out, b.history[b.next:]...)
	return append(out, b.history[:b.next]...)
}

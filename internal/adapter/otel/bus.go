package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// TracingBus wraps a domain.EventBus with OpenTelemetry tracing. Each
// Publish becomes a span; handler spans created by instrumented stores
// nest under it, so one event's whole reaction chain reads as one trace.
type TracingBus struct {
	next   domain.EventBus
	tracer trace.Tracer
}

// Compile-time check: TracingBus implements domain.EventBus.
var _ domain.EventBus = (*TracingBus)(nil)

// NewTracingBus creates a tracing decorator around the given bus.
func NewTracingBus(next domain.EventBus) *TracingBus {
	return &TracingBus{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (b *TracingBus) Publish(ctx context.Context, event domain.Event) {
	ctx, span := b.tracer.Start(ctx, "EventBus.Publish",
		trace.WithAttributes(
			attribute.String("event.name", string(event.Name())),
			attribute.String("tenant.id", event.Tenant()),
		),
	)
	defer span.End()

	b.next.Publish(ctx, event)
}

func (b *TracingBus) Subscribe(name domain.EventName, handler domain.EventHandler) {
	b.next.Subscribe(name, handler)
}

func (b *TracingBus) Recent() []domain.Event {
	return b.next.Recent()
}

package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/neomorfeo/bookiq/internal/app"
)

// RunnerMetrics implements app.RunnerMetrics on OpenTelemetry instruments.
type RunnerMetrics struct {
	claimed   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	reclaimed metric.Int64Counter
	inFlight  metric.Int64UpDownCounter
	duration  metric.Float64Histogram
}

// Compile-time check: RunnerMetrics implements app.RunnerMetrics.
var _ app.RunnerMetrics = (*RunnerMetrics)(nil)

// NewRunnerMetrics creates the runner instruments on the global meter
// provider.
func NewRunnerMetrics() (*RunnerMetrics, error) {
	meter := otel.Meter(tracerName)

	claimed, err := meter.Int64Counter("bookiq.jobs.claimed",
		metric.WithDescription("Jobs claimed from the queue"))
	if err != nil {
		return nil, fmt.Errorf("creating claimed counter: %w", err)
	}
	completed, err := meter.Int64Counter("bookiq.jobs.completed",
		metric.WithDescription("Jobs executed successfully"))
	if err != nil {
		return nil, fmt.Errorf("creating completed counter: %w", err)
	}
	failed, err := meter.Int64Counter("bookiq.jobs.failed",
		metric.WithDescription("Job executions that failed"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	reclaimed, err := meter.Int64Counter("bookiq.jobs.reclaimed",
		metric.WithDescription("Stale claims swept back to pending"))
	if err != nil {
		return nil, fmt.Errorf("creating reclaimed counter: %w", err)
	}
	inFlight, err := meter.Int64UpDownCounter("bookiq.jobs.in_flight",
		metric.WithDescription("Claimed jobs currently executing"))
	if err != nil {
		return nil, fmt.Errorf("creating in-flight counter: %w", err)
	}
	duration, err := meter.Float64Histogram("bookiq.jobs.duration",
		metric.WithDescription("Successful job execution time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &RunnerMetrics{
		claimed:   claimed,
		completed: completed,
		failed:    failed,
		reclaimed: reclaimed,
		inFlight:  inFlight,
		duration:  duration,
	}, nil
}

func (m *RunnerMetrics) JobsClaimed(ctx context.Context, n int) {
	m.claimed.Add(ctx, int64(n))
	m.inFlight.Add(ctx, int64(n))
}

func (m *RunnerMetrics) JobCompleted(ctx context.Context, jobType string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("job.type", jobType))
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	m.inFlight.Add(ctx, -1)
}

func (m *RunnerMetrics) JobFailed(ctx context.Context, jobType string, terminal bool) {
	m.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job.type", jobType),
		attribute.Bool("terminal", terminal),
	))
	m.inFlight.Add(ctx, -1)
}

func (m *RunnerMetrics) JobsReclaimed(ctx context.Context, n int) {
	m.reclaimed.Add(ctx, int64(n))
}

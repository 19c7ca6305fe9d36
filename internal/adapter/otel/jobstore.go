package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/bookiq/internal/domain"
)

const tracerName = "github.com/neomorfeo/bookiq/internal/adapter/otel"

// TracingJobStore wraps a domain.JobStore with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingJobStore struct {
	next   domain.JobStore
	tracer trace.Tracer
}

// Compile-time check: TracingJobStore implements domain.JobStore.
var _ domain.JobStore = (*TracingJobStore)(nil)

// NewTracingJobStore creates a tracing decorator around the given store.
func NewTracingJobStore(next domain.JobStore) *TracingJobStore {
	return &TracingJobStore{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *TracingJobStore) Enqueue(ctx context.Context, job domain.Job) error {
	ctx, span := s.tracer.Start(ctx, "JobStore.Enqueue",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.type", job.Type),
			attribute.String("tenant.id", job.TenantID),
			attribute.Int("job.priority", job.Priority),
		),
	)
	defer span.End()

	err := s.next.Enqueue(ctx, job)
	recordError(span, err)
	return err
}

func (s *TracingJobStore) GetByID(ctx context.Context, id string) (domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.GetByID",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	job, err := s.next.GetByID(ctx, id)
	recordError(span, err)
	return job, err
}

func (s *TracingJobStore) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.ClaimBatch",
		trace.WithAttributes(attribute.Int("claim.limit", limit)),
	)
	defer span.End()

	jobs, err := s.next.ClaimBatch(ctx, limit, now)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("claim.count", len(jobs)))
	}
	return jobs, err
}

func (s *TracingJobStore) Complete(ctx context.Context, id string, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "JobStore.Complete",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	err := s.next.Complete(ctx, id, now)
	recordError(span, err)
	return err
}

func (s *TracingJobStore) Fail(ctx context.Context, id, errMsg string, now time.Time) (domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.Fail",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	job, err := s.next.Fail(ctx, id, errMsg, now)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(
			attribute.Int("job.attempts", job.Attempts),
			attribute.String("job.status", string(job.Status)),
		)
	}
	return job, err
}

func (s *TracingJobStore) FailPermanently(ctx context.Context, id, errMsg string, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "JobStore.FailPermanently",
		trace.WithAttributes(attribute.String("job.id", id)),
	)
	defer span.End()

	err := s.next.FailPermanently(ctx, id, errMsg, now)
	recordError(span, err)
	return err
}

func (s *TracingJobStore) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.ReclaimStale")
	defer span.End()

	n, err := s.next.ReclaimStale(ctx, claimedBefore, now)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("reclaim.count", n))
	}
	return n, err
}

func (s *TracingJobStore) CancelPending(ctx context.Context, tenantID, jobType, correlationID string, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.CancelPending",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("job.type", jobType),
		),
	)
	defer span.End()

	n, err := s.next.CancelPending(ctx, tenantID, jobType, correlationID, now)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("cancel.count", n))
	}
	return n, err
}

func (s *TracingJobStore) ExistsSince(ctx context.Context, tenantID, jobType, dedupeKey string, since time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.ExistsSince",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("job.type", jobType),
		),
	)
	defer span.End()

	exists, err := s.next.ExistsSince(ctx, tenantID, jobType, dedupeKey, since)
	recordError(span, err)
	return exists, err
}

func (s *TracingJobStore) UpdateStatus(ctx context.Context, id string, from, to domain.JobStatus, runAt, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "JobStore.UpdateStatus",
		trace.WithAttributes(
			attribute.String("job.id", id),
			attribute.String("job.status.from", string(from)),
			attribute.String("job.status.to", string(to)),
		),
	)
	defer span.End()

	err := s.next.UpdateStatus(ctx, id, from, to, runAt, now)
	recordError(span, err)
	return err
}

func (s *TracingJobStore) ListByTenant(ctx context.Context, tenantID string, filter domain.JobFilter) ([]domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.ListByTenant",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	jobs, err := s.next.ListByTenant(ctx, tenantID, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(jobs)))
	}
	return jobs, err
}

func (s *TracingJobStore) ListUpcoming(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.ListUpcoming",
		trace.WithAttributes(attribute.Int("filter.limit", limit)),
	)
	defer span.End()

	jobs, err := s.next.ListUpcoming(ctx, now, limit)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(jobs)))
	}
	return jobs, err
}

func (s *TracingJobStore) CountByStatus(ctx context.Context, tenantID string) (map[domain.JobStatus]int, error) {
	ctx, span := s.tracer.Start(ctx, "JobStore.CountByStatus",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	counts, err := s.next.CountByStatus(ctx, tenantID)
	recordError(span, err)
	return counts, err
}

func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

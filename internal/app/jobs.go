package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// JobAdminService is the operator surface over the queue: introspection
// plus cancel and retry, with every status change checked against the job
// lifecycle before it touches the store.
type JobAdminService struct {
	store     domain.JobStore
	validator domain.TransitionValidator
	audit     *AuditRecorder
	clock     domain.Clock
	logger    *slog.Logger
}

// NewJobAdminService creates the admin service.
func NewJobAdminService(store domain.JobStore, validator domain.TransitionValidator, audit *AuditRecorder, clk domain.Clock, logger *slog.Logger) *JobAdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobAdminService{
		store:     store,
		validator: validator,
		audit:     audit,
		clock:     clk,
		logger:    logger,
	}
}

// Get returns a job by ID.
func (s *JobAdminService) Get(ctx context.Context, id string) (domain.Job, error) {
	return s.store.GetByID(ctx, id)
}

// List returns a tenant's jobs matching the filter, newest first.
func (s *JobAdminService) List(ctx context.Context, tenantID string, filter domain.JobFilter) ([]domain.Job, error) {
	return s.store.ListByTenant(ctx, tenantID, filter)
}

// Stats returns per-status job counts for a tenant.
func (s *JobAdminService) Stats(ctx context.Context, tenantID string) (map[domain.JobStatus]int, error) {
	return s.store.CountByStatus(ctx, tenantID)
}

// Upcoming returns pending jobs in claim order.
func (s *JobAdminService) Upcoming(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.store.ListUpcoming(ctx, s.clock.Now(), limit)
}

// Cancel cancels a pending job. Claimed and terminal jobs are refused with
// a TransitionError.
func (s *JobAdminService) Cancel(ctx context.Context, id string) (domain.Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}

	target, err := s.validator.Apply(ctx, job.Status, domain.JobEventCancel)
	if err != nil {
		return domain.Job{}, err
	}

	now := s.clock.Now()
	if err := s.store.UpdateStatus(ctx, id, job.Status, target, job.RunAt, now); err != nil {
		return domain.Job{}, fmt.Errorf("cancelling job: %w", err)
	}

	s.audit.Record(ctx, job.TenantID, "job.cancelled", "job", job.ID, "admin", map[string]any{
		"type": job.Type,
	})
	return s.store.GetByID(ctx, id)
}

// Retry re-opens a terminally failed job, scheduling it to run now. The
// attempts counter is preserved, so the job gets exactly one more try
// before exhausting again.
func (s *JobAdminService) Retry(ctx context.Context, id string) (domain.Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status != domain.JobFailed {
		return domain.Job{}, &domain.TransitionError{Event: domain.JobEventRetry, Current: job.Status}
	}

	target, err := s.validator.Apply(ctx, job.Status, domain.JobEventRetry)
	if err != nil {
		return domain.Job{}, err
	}

	now := s.clock.Now()
	if err := s.store.UpdateStatus(ctx, id, job.Status, target, now, now); err != nil {
		return domain.Job{}, fmt.Errorf("retrying job: %w", err)
	}

	s.audit.Record(ctx, job.TenantID, "job.retried", "job", job.ID, "admin", map[string]any{
		"type":     job.Type,
		"attempts": job.Attempts,
	})
	return s.store.GetByID(ctx, id)
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neomorfeo/bookiq/internal/domain"
)

const jobColumns = `id, tenant_id, type, payload, priority, run_at, status,
	attempts, max_attempts, source_event, correlation_id, dedupe_key,
	last_error, claimed_at, created_at, updated_at`

// Enqueue inserts a new pending job.
func (s *Store) Enqueue(ctx context.Context, j domain.Job) error {
	payload := j.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, type, payload, priority, run_at, status,
		 attempts, max_attempts, source_event, correlation_id, dedupe_key,
		 last_error, claimed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		j.ID, j.TenantID, j.Type, string(payload), j.Priority,
		formatTime(j.RunAt), string(j.Status), j.Attempts, j.MaxAttempts,
		j.SourceEvent, j.CorrelationID, j.DedupeKey, j.LastError,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// GetByID returns a job by its unique identifier.
func (s *Store) GetByID(ctx context.Context, id string) (domain.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	))
}

// ClaimBatch atomically moves up to limit runnable pending jobs to claimed,
// ordered by (priority desc, run_at asc). The select and update run in one
// transaction, which SQLite serializes against concurrent claimers; the
// same shape maps onto SELECT ... FOR UPDATE SKIP LOCKED elsewhere.
func (s *Store) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? AND run_at <= ?
		 ORDER BY priority DESC, run_at ASC
		 LIMIT ?`,
		string(domain.JobPending), formatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting claimable jobs: %w", err)
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	claimedAt := formatTime(now)
	for i := range jobs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, claimed_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(domain.JobClaimed), claimedAt, claimedAt,
			jobs[i].ID, string(domain.JobPending),
		); err != nil {
			return nil, fmt.Errorf("claiming job %s: %w", jobs[i].ID, err)
		}
		jobs[i].Status = domain.JobClaimed
		t := now
		jobs[i].ClaimedAt = &t
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return jobs, nil
}

// Complete marks a job completed. Calling it twice is a no-op.
func (s *Store) Complete(ctx context.Context, id string, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(domain.JobCompleted), formatTime(now), id,
		string(domain.JobClaimed), string(domain.JobCompleted),
	)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return s.checkTransitioned(ctx, result, id, domain.JobEventComplete)
}

// Fail increments attempts and either reschedules the job with backoff or,
// at the ceiling, marks it terminally failed. Attempts never passes the
// ceiling, so an operator retry that fails again re-exhausts in place.
func (s *Store) Fail(ctx context.Context, id, errMsg string, now time.Time) (domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	))
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status != domain.JobClaimed {
		// Already resolved elsewhere (reclaim or duplicate report).
		return job, tx.Commit()
	}

	if job.Attempts < job.MaxAttempts {
		job.Attempts++
	}
	job.LastError = errMsg
	job.ClaimedAt = nil
	job.UpdatedAt = now
	if job.Attempts >= job.MaxAttempts {
		job.Status = domain.JobFailed
	} else {
		job.Status = domain.JobPending
		job.RunAt = now.Add(domain.RetryDelay(job.Attempts))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, run_at = ?, last_error = ?,
		 claimed_at = NULL, updated_at = ?
		 WHERE id = ?`,
		string(job.Status), job.Attempts, formatTime(job.RunAt),
		job.LastError, formatTime(now), id,
	); err != nil {
		return domain.Job{}, fmt.Errorf("failing job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Job{}, fmt.Errorf("committing fail: %w", err)
	}
	return job, nil
}

// FailPermanently marks a job terminally failed regardless of attempts.
func (s *Store) FailPermanently(ctx context.Context, id, errMsg string, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(domain.JobFailed), errMsg, formatTime(now), id,
		string(domain.JobClaimed), string(domain.JobFailed),
	)
	if err != nil {
		return fmt.Errorf("failing job permanently: %w", err)
	}
	return s.checkTransitioned(ctx, result, id, domain.JobEventExhaust)
}

// ReclaimStale resets jobs claimed before the cutoff back to pending.
// Attempts are untouched; a crashed worker is not the job's fault.
func (s *Store) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, claimed_at = NULL, updated_at = ?
		 WHERE status = ? AND claimed_at < ?`,
		string(domain.JobPending), formatTime(now),
		string(domain.JobClaimed), formatTime(claimedBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// CancelPending cancels all pending jobs of the given type tied to a
// correlation ID.
func (s *Store) CancelPending(ctx context.Context, tenantID, jobType, correlationID string, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ?
		 WHERE tenant_id = ? AND type = ? AND correlation_id = ? AND status = ?`,
		string(domain.JobCancelled), formatTime(now),
		tenantID, jobType, correlationID, string(domain.JobPending),
	)
	if err != nil {
		return 0, fmt.Errorf("cancelling pending jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// ExistsSince reports whether a non-cancelled job of the given type and
// dedupe key was created at or after since. Runs against the dedupe index,
// not a payload scan.
func (s *Store) ExistsSince(ctx context.Context, tenantID, jobType, dedupeKey string, since time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM jobs
		   WHERE tenant_id = ? AND type = ? AND dedupe_key = ?
		     AND created_at >= ? AND status != ?
		 )`,
		tenantID, jobType, dedupeKey, formatTime(since), string(domain.JobCancelled),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking job existence: %w", err)
	}
	return exists == 1, nil
}

// UpdateStatus moves a job between statuses, guarded by the expected
// current status, and reschedules it to runAt.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to domain.JobStatus, runAt, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, run_at = ?, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), formatTime(runAt), formatTime(now), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ListByTenant returns a tenant's jobs, newest first, matching the filter.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, filter domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = ?`
	args := []any{tenantID}

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListUpcoming returns pending jobs in claim order.
func (s *Store) ListUpcoming(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ?
		 ORDER BY priority DESC, run_at ASC
		 LIMIT ?`,
		string(domain.JobPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing upcoming jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountByStatus returns per-status job counts for a tenant.
func (s *Store) CountByStatus(ctx context.Context, tenantID string) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE tenant_id = ? GROUP BY status`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning job count: %w", err)
		}
		counts[domain.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

// checkTransitioned translates a zero-row status update into not-found or
// an invalid-transition error depending on whether the job exists.
func (s *Store) checkTransitioned(ctx context.Context, result sql.Result, id string, event domain.JobEvent) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("checking job status: %w", err)
	}
	return &domain.TransitionError{Event: event, Current: domain.JobStatus(status)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var payload, runAt, status, createdAt, updatedAt string
	var claimedAt sql.NullString

	err := row.Scan(&j.ID, &j.TenantID, &j.Type, &payload, &j.Priority,
		&runAt, &status, &j.Attempts, &j.MaxAttempts, &j.SourceEvent,
		&j.CorrelationID, &j.DedupeKey, &j.LastError, &claimedAt,
		&createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("scanning job: %w", err)
	}

	j.Payload = []byte(payload)
	j.RunAt = parseTime(runAt)
	j.Status = domain.JobStatus(status)
	if claimedAt.Valid {
		t := parseTime(claimedAt.String)
		j.ClaimedAt = &t
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)

	return j, nil
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

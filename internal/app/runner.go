package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// Executor performs the work for one job type. Kind is the job type
// discriminator; a runner holds exactly one executor per kind.
type Executor interface {
	Kind() string
	Execute(ctx context.Context, job domain.Job) error
}

// PayloadValidator is optionally implemented by executors that can check a
// payload's shape before execution. A validation failure is terminal: the
// payload will not become valid on its own.
type PayloadValidator interface {
	ValidatePayload(payload json.RawMessage) error
}

// RunnerMetrics receives runner instrumentation callbacks.
type RunnerMetrics interface {
	JobsClaimed(ctx context.Context, n int)
	JobCompleted(ctx context.Context, jobType string, d time.Duration)
	JobFailed(ctx context.Context, jobType string, terminal bool)
	JobsReclaimed(ctx context.Context, n int)
}

// NopMetrics discards all runner instrumentation.
type NopMetrics struct{}

func (NopMetrics) JobsClaimed(context.Context, int)                    {}
func (NopMetrics) JobCompleted(context.Context, string, time.Duration) {}
func (NopMetrics) JobFailed(context.Context, string, bool)             {}
func (NopMetrics) JobsReclaimed(context.Context, int)                  {}

// RunnerConfig tunes the polling runner. Zero values take defaults.
type RunnerConfig struct {
	// PollInterval is how often the runner looks for claimable jobs.
	PollInterval time.Duration
	// ReclaimInterval is how often stale claims are swept back to pending.
	ReclaimInterval time.Duration
	// ClaimTimeout is how long a claim may sit before the sweeper treats
	// its worker as dead.
	ClaimTimeout time.Duration
	// MaxConcurrent bounds in-flight jobs and the claim batch size.
	MaxConcurrent int
	// StopGrace is how long Stop waits for in-flight jobs before giving up.
	StopGrace time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 30 * time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 5 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	return c
}

// Runner claims pending jobs from the store and dispatches them to
// registered executors. Completion and terminal failure are mirrored into
// the audit trail. Multiple runners may share one store; the claim step is
// the only coordination between them.
type Runner struct {
	store   domain.JobStore
	audit   *AuditRecorder
	clock   domain.Clock
	logger  *slog.Logger
	metrics RunnerMetrics
	cfg     RunnerConfig

	mu        sync.Mutex
	executors map[string]Executor
	running   bool
	inFlight  int
	stop      chan struct{}
	done      chan struct{}

	wg sync.WaitGroup
}

// NewRunner creates a runner. Executors are registered separately before Start.
func NewRunner(store domain.JobStore, audit *AuditRecorder, clk domain.Clock, metrics RunnerMetrics, logger *slog.Logger, cfg RunnerConfig) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Runner{
		store:     store,
		audit:     audit,
		clock:     clk,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		executors: make(map[string]Executor),
	}
}

// Register adds an executor. Registering two executors for the same kind is
// a wiring bug and is rejected.
func (r *Runner) Register(exec Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := exec.Kind()
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor already registered for job type %q", kind)
	}
	r.executors[kind] = exec
	return nil
}

// Start launches the polling loop. It returns an error if the runner is
// already running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("runner already started")
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.loop(ctx, r.stop, r.done)
	return nil
}

func (r *Runner) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	reclaim := time.NewTicker(r.cfg.ReclaimInterval)
	defer reclaim.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-poll.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "job poll failed", "error", err)
			}
		case <-reclaim.C:
			if _, err := r.ReclaimOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "stale claim sweep failed", "error", err)
			}
		}
	}
}

// Stop halts polling and waits up to StopGrace for in-flight jobs. Jobs
// still running after the grace period are abandoned; the stale-claim
// sweeper of the next runner picks them up.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	<-done

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(r.cfg.StopGrace):
		return errors.New("runner stopped with jobs still in flight")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce claims up to the free concurrency slots and dispatches each job
// on its own goroutine without waiting for any of them. A slow job holds
// its slot but never blocks the next poll from claiming into the remaining
// slots. Exported so hosts and tests can drive the runner without the
// polling loop; pair with Wait for deterministic assertions.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	free := r.cfg.MaxConcurrent - r.inFlight
	r.mu.Unlock()
	if free <= 0 {
		return 0, nil
	}

	jobs, err := r.store.ClaimBatch(ctx, free, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("claiming jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	r.metrics.JobsClaimed(ctx, len(jobs))

	r.mu.Lock()
	r.inFlight += len(jobs)
	r.mu.Unlock()

	for _, job := range jobs {
		r.wg.Add(1)
		go func(job domain.Job) {
			defer r.wg.Done()
			defer func() {
				r.mu.Lock()
				r.inFlight--
				r.mu.Unlock()
			}()
			r.process(ctx, job)
		}(job)
	}

	return len(jobs), nil
}

// Wait blocks until every dispatched job has finished. Used by Stop and by
// callers that drive RunOnce directly.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// ReclaimOnce sweeps claims older than ClaimTimeout back to pending.
func (r *Runner) ReclaimOnce(ctx context.Context) (int, error) {
	now := r.clock.Now()
	n, err := r.store.ReclaimStale(ctx, now.Add(-r.cfg.ClaimTimeout), now)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale claims: %w", err)
	}
	if n > 0 {
		r.metrics.JobsReclaimed(ctx, n)
		r.logger.WarnContext(ctx, "reclaimed stale claims", "count", n)
	}
	return n, nil
}

func (r *Runner) process(ctx context.Context, job domain.Job) {
	r.mu.Lock()
	exec, ok := r.executors[job.Type]
	r.mu.Unlock()

	if !ok {
		r.failTerminally(ctx, job, &domain.UnknownJobTypeError{Type: job.Type})
		return
	}
	if v, ok := exec.(PayloadValidator); ok {
		if err := v.ValidatePayload(job.Payload); err != nil {
			r.failTerminally(ctx, job, &domain.InvalidPayloadError{Type: job.Type, Reason: err.Error()})
			return
		}
	}

	started := r.clock.Now()
	err := r.runExecutor(ctx, exec, job)
	if err != nil {
		r.handleFailure(ctx, job, err)
		return
	}

	if err := r.store.Complete(ctx, job.ID, r.clock.Now()); err != nil {
		r.logger.ErrorContext(ctx, "marking job completed failed",
			"job_id", job.ID, "error", err)
		return
	}
	r.metrics.JobCompleted(ctx, job.Type, r.clock.Now().Sub(started))
	r.audit.Record(ctx, job.TenantID, "job.completed", "job", job.ID, "runner", map[string]any{
		"type":     job.Type,
		"attempts": job.Attempts,
	})
}

// runExecutor contains executor panics and reports them as errors.
func (r *Runner) runExecutor(ctx context.Context, exec Executor, job domain.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panic: %v", rec)
		}
	}()
	return exec.Execute(ctx, job)
}

func (r *Runner) handleFailure(ctx context.Context, job domain.Job, execErr error) {
	failed, err := r.store.Fail(ctx, job.ID, execErr.Error(), r.clock.Now())
	if err != nil {
		r.logger.ErrorContext(ctx, "recording job failure failed",
			"job_id", job.ID, "error", err)
		return
	}

	terminal := failed.Status == domain.JobFailed
	r.metrics.JobFailed(ctx, job.Type, terminal)
	r.logger.WarnContext(ctx, "job failed",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", failed.Attempts,
		"terminal", terminal,
		"error", execErr,
	)

	if terminal {
		r.audit.Record(ctx, job.TenantID, "job.exhausted", "job", job.ID, "runner", map[string]any{
			"type":       job.Type,
			"attempts":   failed.Attempts,
			"last_error": execErr.Error(),
		})
	}
}

func (r *Runner) failTerminally(ctx context.Context, job domain.Job, cause error) {
	r.metrics.JobFailed(ctx, job.Type, true)
	r.logger.ErrorContext(ctx, "job failed permanently",
		"job_id", job.ID, "type", job.Type, "error", cause)

	if err := r.store.FailPermanently(ctx, job.ID, cause.Error(), r.clock.Now()); err != nil {
		r.logger.ErrorContext(ctx, "marking job failed failed",
			"job_id", job.ID, "error", err)
		return
	}
	r.audit.Record(ctx, job.TenantID, "job.failed", "job", job.ID, "runner", map[string]any{
		"type":       job.Type,
		"last_error": cause.Error(),
	})
}

// RunnerStatus is a point-in-time snapshot for the admin surface.
type RunnerStatus struct {
	Running       bool     `json:"running"`
	ActiveJobs    int      `json:"active_jobs"`
	MaxConcurrent int      `json:"max_concurrent"`
	JobTypes      []string `json:"job_types"`
}

// Status reports whether the runner is polling, how many jobs are in
// flight, and which job types it serves.
func (r *Runner) Status() RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]string, 0, len(r.executors))
	for kind := range r.executors {
		types = append(types, kind)
	}
	sort.Strings(types)

	return RunnerStatus{
		Running:       r.running,
		ActiveJobs:    r.inFlight,
		MaxConcurrent: r.cfg.MaxConcurrent,
		JobTypes:      types,
	}
}

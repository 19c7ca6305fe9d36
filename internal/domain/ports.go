package domain

import (
	"context"
	"time"
)

// Clock is the injectable time source every scheduling and TTL decision
// goes through, so tests can advance time deterministically.
type Clock interface {
	Now() time.Time
}

// EventHandler processes one domain event. Errors are contained and logged
// by the bus; they never reach the publisher.
type EventHandler func(ctx context.Context, event Event) error

// EventBus is the in-process publish/subscribe contract for domain events.
// Events are delivered synchronously at publish time and are not persisted:
// a handler not subscribed when Publish runs never sees the event.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(name EventName, handler EventHandler)
	// Recent returns the last published events, oldest first. Diagnostic
	// only, never a source of truth.
	Recent() []Event
}

// JobFilter holds optional criteria for listing jobs.
type JobFilter struct {
	Status *JobStatus
	Type   string
	Limit  int
	Offset int
}

// JobStore is the durable queue contract. The job table is the single
// coordination point between concurrent claimers; every mutation must be
// atomic with respect to other callers.
type JobStore interface {
	Enqueue(ctx context.Context, job Job) error
	GetByID(ctx context.Context, id string) (Job, error)

	// ClaimBatch atomically selects up to limit pending jobs with
	// run_at <= now, ordered by (priority desc, run_at asc), and marks
	// them claimed.
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]Job, error)

	// Complete marks a job completed. Idempotent if called twice.
	Complete(ctx context.Context, id string, now time.Time) error

	// Fail increments attempts and either reschedules the job with backoff
	// or, at the max-attempts ceiling, marks it terminally failed. Returns
	// the job as stored afterwards.
	Fail(ctx context.Context, id, errMsg string, now time.Time) (Job, error)

	// FailPermanently marks a job terminally failed regardless of the
	// attempts counter. Used for misconfiguration, where retrying cannot help.
	FailPermanently(ctx context.Context, id, errMsg string, now time.Time) error

	// ReclaimStale resets jobs claimed before the cutoff back to pending
	// without touching attempts; a worker crash is not the job's fault.
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int, error)

	// CancelPending cancels all pending jobs of the given type tied to a
	// correlation ID, returning how many were cancelled.
	CancelPending(ctx context.Context, tenantID, jobType, correlationID string, now time.Time) (int, error)

	// ExistsSince reports whether a non-cancelled job of the given type and
	// dedupe key was created at or after since. Backs cooldown checks.
	ExistsSince(ctx context.Context, tenantID, jobType, dedupeKey string, since time.Time) (bool, error)

	// UpdateStatus moves a job from one status to another, guarded by the
	// current status, and reschedules it to runAt.
	UpdateStatus(ctx context.Context, id string, from, to JobStatus, runAt, now time.Time) error

	ListByTenant(ctx context.Context, tenantID string, filter JobFilter) ([]Job, error)
	ListUpcoming(ctx context.Context, now time.Time, limit int) ([]Job, error)
	CountByStatus(ctx context.Context, tenantID string) (map[JobStatus]int, error)
}

// PolicyStore defines read/write access to policy rules. The orchestration
// core only reads; Upsert exists for the admin surface and the seed loader.
type PolicyStore interface {
	// ListActive returns active rules for the action scoped to the tenant
	// or global.
	ListActive(ctx context.Context, action, tenantID string) ([]PolicyRule, error)
	List(ctx context.Context, tenantID string) ([]PolicyRule, error)
	Upsert(ctx context.Context, rule PolicyRule) error
}

// AuditStore persists the append-only audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) error
	ListRecent(ctx context.Context, tenantID string, limit int) ([]AuditEntry, error)
}

// HoldStore persists availability holds. Create must refuse a hold whose
// slot overlaps an unexpired hold for the same tenant.
type HoldStore interface {
	Create(ctx context.Context, hold AvailabilityHold) error
	Delete(ctx context.Context, id, tenantID string) error
	// DeleteExpired removes lapsed holds and returns them so expiry events
	// can be published.
	DeleteExpired(ctx context.Context, now time.Time) ([]AvailabilityHold, error)
}

// WaitlistStore persists waitlist entries, FIFO by creation time.
type WaitlistStore interface {
	CreateWaitlistEntry(ctx context.Context, entry WaitlistEntry) error
	FindWaiting(ctx context.Context, tenantID, service string, limit int) ([]WaitlistEntry, error)
	MarkNotified(ctx context.Context, id string, now time.Time) error
}

// AppointmentStore is the appointment lookup contract.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, appointment Appointment) error
	FindAppointmentByID(ctx context.Context, id, tenantID string) (Appointment, error)
}

// SessionStore is the session/customer lookup contract owned by the
// excluded chat layer.
type SessionStore interface {
	CreateSession(ctx context.Context, session Session) error
	FindSessionByID(ctx context.Context, id string) (Session, error)
	LinkCustomer(ctx context.Context, sessionID, customerID string) error
}

// OutboxStore stages outbound messages for an external sender.
type OutboxStore interface {
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
	// AbortQueuedOutbox aborts every queued message tied to an appointment,
	// returning how many were aborted.
	AbortQueuedOutbox(ctx context.Context, tenantID, appointmentID string, now time.Time) (int, error)
}

// CalendarProvider is the external calendar contract. Busy ranges may be
// served stale from a bounded-TTL cache.
type CalendarProvider interface {
	FreeBusy(ctx context.Context, tenantID string, from, to time.Time) ([]BusyRange, error)
}

// TransitionValidator checks job status transitions against the lifecycle
// defined by JobTransitions.
type TransitionValidator interface {
	Apply(ctx context.Context, current JobStatus, event JobEvent) (JobStatus, error)
}

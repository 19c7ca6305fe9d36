package domain

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobClaimed   JobStatus = "claimed"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobEvent represents an action that triggers a job state transition.
type JobEvent string

const (
	JobEventClaim    JobEvent = "claim"
	JobEventComplete JobEvent = "complete"
	JobEventRetry    JobEvent = "retry"
	JobEventExhaust  JobEvent = "exhaust"
	JobEventCancel   JobEvent = "cancel"
)

// JobTransition defines a valid state change: an event moves a job from Src to Dst.
type JobTransition struct {
	Event JobEvent
	Src   JobStatus
	Dst   JobStatus
}

// JobTransitions defines all valid state changes in the job lifecycle.
// This is domain knowledge consumed by the FSM adapter. Retry from "failed"
// is the operator path that re-opens an exhausted job.
var JobTransitions = []JobTransition{
	{Event: JobEventClaim, Src: JobPending, Dst: JobClaimed},
	{Event: JobEventComplete, Src: JobClaimed, Dst: JobCompleted},
	{Event: JobEventRetry, Src: JobClaimed, Dst: JobPending},
	{Event: JobEventRetry, Src: JobFailed, Dst: JobPending},
	{Event: JobEventExhaust, Src: JobClaimed, Dst: JobFailed},
	{Event: JobEventCancel, Src: JobPending, Dst: JobCancelled},
}

// Job types understood by the orchestration core. Executors are registered
// by the host under these discriminators.
const (
	JobTypeBookingConfirmation = "send_booking_confirmation"
	JobTypeBookingReminder     = "send_booking_reminder"
	JobTypeCancellationNotice  = "send_cancellation_notice"
	JobTypeHoldFollowup        = "send_hold_followup"
	JobTypeWaitlistOffer       = "send_waitlist_offer"
	JobTypeCalendarEscalation  = "escalate_calendar_failure"
)

// Job priorities. Higher values are claimed first within a batch.
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 10
)

// DefaultMaxAttempts is the retry ceiling applied to new jobs.
const DefaultMaxAttempts = 5

// Job is a durable, retryable unit of deferred work tied to a tenant.
// Terminal rows (completed, failed, cancelled) are retained for
// introspection; pruning is an external retention concern.
type Job struct {
	ID          string
	TenantID    string
	Type        string
	Payload     json.RawMessage
	Priority    int
	RunAt       time.Time
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	// SourceEvent records the domain event that caused this job, for provenance.
	SourceEvent string
	// CorrelationID links the job to the entity it acts on (usually an
	// appointment ID) so related pending jobs can be cancelled in bulk.
	CorrelationID string
	// DedupeKey is the indexed column cooldown lookups run against.
	DedupeKey string
	LastError string
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob creates a pending job scheduled to run immediately. Callers adjust
// Priority, RunAt, and provenance fields before enqueueing.
func NewJob(id, tenantID, jobType string, payload json.RawMessage, now time.Time) Job {
	return Job{
		ID:          id,
		TenantID:    tenantID,
		Type:        jobType,
		Payload:     payload,
		Priority:    PriorityNormal,
		RunAt:       now,
		Status:      JobPending,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

const (
	retryBase = 30 * time.Second
	retryCap  = time.Hour
)

// RetryDelay returns the backoff applied before the given attempt is
// retried: exponential from 30s, capped at one hour.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryCap {
			return retryCap
		}
	}
	return d
}

// JobArgs is implemented by every job payload type. Kind is the job type
// discriminator matched to a registered Executor, one payload shape per type.
type JobArgs interface {
	Kind() string
}

// BookingConfirmationArgs is the payload for send_booking_confirmation jobs.
type BookingConfirmationArgs struct {
	AppointmentID string `json:"appointment_id"`
}

func (BookingConfirmationArgs) Kind() string { return JobTypeBookingConfirmation }

// BookingReminderArgs is the payload for send_booking_reminder jobs.
type BookingReminderArgs struct {
	AppointmentID string `json:"appointment_id"`
}

func (BookingReminderArgs) Kind() string { return JobTypeBookingReminder }

// CancellationNoticeArgs is the payload for send_cancellation_notice jobs.
type CancellationNoticeArgs struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason,omitempty"`
}

func (CancellationNoticeArgs) Kind() string { return JobTypeCancellationNotice }

// HoldFollowupArgs is the payload for send_hold_followup jobs.
type HoldFollowupArgs struct {
	SessionID string    `json:"session_id"`
	SlotStart time.Time `json:"slot_start"`
	SlotEnd   time.Time `json:"slot_end"`
}

func (HoldFollowupArgs) Kind() string { return JobTypeHoldFollowup }

// WaitlistOfferArgs is the payload for send_waitlist_offer jobs.
type WaitlistOfferArgs struct {
	EntryID   string    `json:"entry_id"`
	Service   string    `json:"service"`
	SlotStart time.Time `json:"slot_start"`
	SlotEnd   time.Time `json:"slot_end"`
}

func (WaitlistOfferArgs) Kind() string { return JobTypeWaitlistOffer }

// CalendarEscalationArgs is the payload for escalate_calendar_failure jobs.
type CalendarEscalationArgs struct {
	AppointmentID string `json:"appointment_id"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error"`
	ContactEmail  string `json:"contact_email,omitempty"`
}

func (CalendarEscalationArgs) Kind() string { return JobTypeCalendarEscalation }

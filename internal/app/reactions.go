package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neomorfeo/bookiq/internal/domain"
)

const (
	// reminderLead is how long before the slot a booking reminder fires.
	reminderLead = 24 * time.Hour
	// followupCooldown suppresses repeat hold followups to the same session.
	followupCooldown = 30 * time.Minute
	// maxWaitlistOffers caps how many customers one opened slot is offered to.
	maxWaitlistOffers = 5
)

// Reactor subscribes to domain events and turns them into policy-gated
// jobs. Handlers are idempotent where the event source may redeliver
// (followup cooldowns, status-guarded updates); each failure is contained
// by the bus and surfaces only in logs and the audit trail.
type Reactor struct {
	jobs         domain.JobStore
	policy       *PolicyEngine
	audit        *AuditRecorder
	sessions     domain.SessionStore
	waitlist     domain.WaitlistStore
	outbox       domain.OutboxStore
	appointments domain.AppointmentStore
	clock        domain.Clock
	logger       *slog.Logger
}

// NewReactor creates a reactor. Call Subscribe to attach it to a bus.
func NewReactor(
	jobs domain.JobStore,
	policy *PolicyEngine,
	audit *AuditRecorder,
	sessions domain.SessionStore,
	waitlist domain.WaitlistStore,
	outbox domain.OutboxStore,
	appointments domain.AppointmentStore,
	clk domain.Clock,
	logger *slog.Logger,
) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactor{
		jobs:         jobs,
		policy:       policy,
		audit:        audit,
		sessions:     sessions,
		waitlist:     waitlist,
		outbox:       outbox,
		appointments: appointments,
		clock:        clk,
		logger:       logger,
	}
}

// Subscribe registers every reaction handler on the bus.
func (r *Reactor) Subscribe(bus domain.EventBus) {
	bus.Subscribe(domain.EventBookingCreated, func(ctx context.Context, e domain.Event) error {
		ev, ok := e.(domain.BookingCreated)
		if !ok {
			return fmt.Errorf("unexpected event type %T for %s", e, e.Name())
		}
		return r.onBookingCreated(ctx, ev)
	})
	bus.Subscribe(domain.EventBookingCancelled, func(ctx context.Context, e domain.Event) error {
		ev, ok := e.(domain.BookingCancelled)
		if !ok {
			return fmt.Errorf("unexpected event type %T for %s", e, e.Name())
		}
		return r.onBookingCancelled(ctx, ev)
	})
	bus.Subscribe(domain.EventHoldExpired, func(ctx context.Context, e domain.Event) error {
		ev, ok := e.(domain.HoldExpired)
		if !ok {
			return fmt.Errorf("unexpected event type %T for %s", e, e.Name())
		}
		return r.onHoldExpired(ctx, ev)
	})
	bus.Subscribe(domain.EventSlotOpened, func(ctx context.Context, e domain.Event) error {
		ev, ok := e.(domain.SlotOpened)
		if !ok {
			return fmt.Errorf("unexpected event type %T for %s", e, e.Name())
		}
		return r.onSlotOpened(ctx, ev)
	})
	bus.Subscribe(domain.EventCalendarRetryExhausted, func(ctx context.Context, e domain.Event) error {
		ev, ok := e.(domain.CalendarRetryExhausted)
		if !ok {
			return fmt.Errorf("unexpected event type %T for %s", e, e.Name())
		}
		return r.onCalendarRetryExhausted(ctx, ev)
	})
}

// onBookingCreated schedules the confirmation and, when the slot is far
// enough out, a reminder ahead of it. Each job is gated by its own policy
// action.
func (r *Reactor) onBookingCreated(ctx context.Context, e domain.BookingCreated) error {
	appt := e.Appointment
	evalCtx := map[string]any{"service": appt.Service}
	now := r.clock.Now()
	var errs []error

	if r.policy.Evaluate(ctx, domain.ActionBookingConfirmation, e.TenantID, evalCtx).Allowed() {
		job := r.newJob(e.TenantID, domain.BookingConfirmationArgs{AppointmentID: appt.ID}, now)
		job.SourceEvent = string(e.Name())
		job.CorrelationID = appt.ID
		if err := r.jobs.Enqueue(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("enqueueing confirmation: %w", err))
		}
	}

	if r.policy.Evaluate(ctx, domain.ActionBookingReminder, e.TenantID, evalCtx).Allowed() {
		runAt := appt.SlotStart.Add(-reminderLead)
		if runAt.After(now) {
			job := r.newJob(e.TenantID, domain.BookingReminderArgs{AppointmentID: appt.ID}, now)
			job.SourceEvent = string(e.Name())
			job.CorrelationID = appt.ID
			job.RunAt = runAt
			if err := r.jobs.Enqueue(ctx, job); err != nil {
				errs = append(errs, fmt.Errorf("enqueueing reminder: %w", err))
			}
		}
	}

	r.audit.Record(ctx, e.TenantID, "booking.created", "appointment", appt.ID, "system", map[string]any{
		"service":        appt.Service,
		"customer_name":  appt.CustomerName,
		"customer_email": appt.CustomerEmail,
		"slot_start":     appt.SlotStart,
	})
	return errors.Join(errs...)
}

// onBookingCancelled runs three independent cleanups: pending reminders are
// cancelled, queued outbox messages are aborted, and a cancellation notice
// is scheduled. A failure in one never blocks the others.
func (r *Reactor) onBookingCancelled(ctx context.Context, e domain.BookingCancelled) error {
	now := r.clock.Now()
	var errs []error

	cancelled, err := r.jobs.CancelPending(ctx, e.TenantID, domain.JobTypeBookingReminder, e.AppointmentID, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("cancelling reminders: %w", err))
	}

	aborted, err := r.outbox.AbortQueuedOutbox(ctx, e.TenantID, e.AppointmentID, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("aborting outbox: %w", err))
	}

	if r.policy.Evaluate(ctx, domain.ActionCancellationNotice, e.TenantID, nil).Allowed() {
		job := r.newJob(e.TenantID, domain.CancellationNoticeArgs{
			AppointmentID: e.AppointmentID,
			Reason:        e.Reason,
		}, now)
		job.SourceEvent = string(e.Name())
		job.CorrelationID = e.AppointmentID
		if err := r.jobs.Enqueue(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("enqueueing cancellation notice: %w", err))
		}
	}

	r.audit.Record(ctx, e.TenantID, "booking.cancelled", "appointment", e.AppointmentID, "system", map[string]any{
		"reason":              e.Reason,
		"reminders_cancelled": cancelled,
		"messages_aborted":    aborted,
	})
	return errors.Join(errs...)
}

// onHoldExpired schedules a followup nudge to the session that let its hold
// lapse, unless one was already sent within the cooldown or the session has
// no way to be reached. The expiry itself is audited regardless of whether a
// followup goes out.
func (r *Reactor) onHoldExpired(ctx context.Context, e domain.HoldExpired) error {
	r.audit.Record(ctx, e.TenantID, "hold.expired", "hold", e.HoldID, "system", map[string]any{
		"session_id": e.SessionID,
		"slot_start": e.SlotStart,
	})

	if !r.policy.Evaluate(ctx, domain.ActionHoldFollowup, e.TenantID, nil).Allowed() {
		return nil
	}

	sess, err := r.sessions.FindSessionByID(ctx, e.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("loading session: %w", err)
	}
	if !sess.HasContactInfo() {
		return nil
	}

	now := r.clock.Now()
	recent, err := r.jobs.ExistsSince(ctx, e.TenantID, domain.JobTypeHoldFollowup, e.SessionID, now.Add(-followupCooldown))
	if err != nil {
		return fmt.Errorf("checking followup cooldown: %w", err)
	}
	if recent {
		r.logger.DebugContext(ctx, "hold followup suppressed by cooldown",
			"tenant_id", e.TenantID, "session_id", e.SessionID)
		return nil
	}

	job := r.newJob(e.TenantID, domain.HoldFollowupArgs{
		SessionID: e.SessionID,
		SlotStart: e.SlotStart,
		SlotEnd:   e.SlotEnd,
	}, now)
	job.SourceEvent = string(e.Name())
	job.CorrelationID = e.HoldID
	job.DedupeKey = e.SessionID
	if err := r.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueueing hold followup: %w", err)
	}
	return nil
}

// onSlotOpened offers the freed slot to waiting customers whose day and
// time preferences accept it, oldest entries first, capped so one
// cancellation cannot flood the queue. The opening is audited even when no
// offer goes out.
func (r *Reactor) onSlotOpened(ctx context.Context, e domain.SlotOpened) error {
	r.audit.Record(ctx, e.TenantID, "slot.opened", "slot", "", "system", map[string]any{
		"service":    e.Service,
		"slot_start": e.SlotStart,
	})

	evalCtx := map[string]any{"service": e.Service}
	if !r.policy.Evaluate(ctx, domain.ActionWaitlistOffer, e.TenantID, evalCtx).Allowed() {
		return nil
	}

	waiting, err := r.waitlist.FindWaiting(ctx, e.TenantID, e.Service, 50)
	if err != nil {
		return fmt.Errorf("loading waitlist: %w", err)
	}

	now := r.clock.Now()
	offered := 0
	var errs []error
	for _, entry := range waiting {
		if offered >= maxWaitlistOffers {
			break
		}
		if !entry.MatchesSlot(e.SlotStart) {
			continue
		}

		job := r.newJob(e.TenantID, domain.WaitlistOfferArgs{
			EntryID:   entry.ID,
			Service:   e.Service,
			SlotStart: e.SlotStart,
			SlotEnd:   e.SlotEnd,
		}, now)
		job.SourceEvent = string(e.Name())
		job.CorrelationID = entry.ID
		if err := r.jobs.Enqueue(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("enqueueing offer for entry %s: %w", entry.ID, err))
			continue
		}
		if err := r.waitlist.MarkNotified(ctx, entry.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("marking entry %s notified: %w", entry.ID, err))
		}
		offered++
	}

	if offered > 0 {
		r.logger.InfoContext(ctx, "waitlist offers scheduled",
			"tenant_id", e.TenantID, "service", e.Service, "offers", offered)
	}
	return errors.Join(errs...)
}

// onCalendarRetryExhausted escalates a calendar outage to a human at high
// priority. The exhaustion is audited even when escalation is gated off.
func (r *Reactor) onCalendarRetryExhausted(ctx context.Context, e domain.CalendarRetryExhausted) error {
	r.audit.Record(ctx, e.TenantID, "calendar.retry_exhausted", "appointment", e.AppointmentID, "system", map[string]any{
		"attempts":   e.Attempts,
		"last_error": e.LastError,
	})

	if !r.policy.Evaluate(ctx, domain.ActionCalendarEscalation, e.TenantID, nil).Allowed() {
		return nil
	}

	args := domain.CalendarEscalationArgs{
		AppointmentID: e.AppointmentID,
		Attempts:      e.Attempts,
		LastError:     e.LastError,
	}
	appt, err := r.appointments.FindAppointmentByID(ctx, e.AppointmentID, e.TenantID)
	switch {
	case err == nil:
		args.ContactEmail = appt.CustomerEmail
	case errors.Is(err, domain.ErrAppointmentNotFound):
		// The escalation still goes out, just without a contact to copy.
	default:
		r.logger.WarnContext(ctx, "loading appointment for escalation failed",
			"tenant_id", e.TenantID, "appointment_id", e.AppointmentID, "error", err)
	}

	now := r.clock.Now()
	job := r.newJob(e.TenantID, args, now)
	job.SourceEvent = string(e.Name())
	job.CorrelationID = e.AppointmentID
	job.Priority = domain.PriorityHigh
	if err := r.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueueing escalation: %w", err)
	}
	return nil
}

// newJob builds a pending job from typed args. Marshaling a plain struct
// cannot fail, so the payload error collapses to a log line.
func (r *Reactor) newJob(tenantID string, args domain.JobArgs, now time.Time) domain.Job {
	payload, err := json.Marshal(args)
	if err != nil {
		r.logger.Error("marshaling job payload", "kind", args.Kind(), "error", err)
		payload = []byte(`{}`)
	}
	return domain.NewJob(uuid.NewString(), tenantID, args.Kind(), payload, now)
}

package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/neomorfeo/bookiq/internal/app"
	"github.com/neomorfeo/bookiq/internal/bus"
	"github.com/neomorfeo/bookiq/internal/clock"
	"github.com/neomorfeo/bookiq/internal/domain"
)

var reactorTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type reactorFixture struct {
	jobs         *memJobStore
	policies     *memPolicyStore
	audits       *memAuditStore
	sessions     *memSessionStore
	waitlist     *memWaitlistStore
	outbox       *memOutboxStore
	appointments *memAppointmentStore
	clock        *clock.Fake
	bus          *bus.Bus
}

func newReactorFixture(t *testing.T) *reactorFixture {
	t.Helper()

	f := &reactorFixture{
		jobs:         newMemJobStore(),
		policies:     &memPolicyStore{},
		audits:       &memAuditStore{},
		sessions:     &memSessionStore{sessions: make(map[string]domain.Session)},
		waitlist:     &memWaitlistStore{},
		outbox:       &memOutboxStore{},
		appointments: newMemAppointmentStore(),
		clock:        clock.NewFake(reactorTime),
		bus:          bus.New(slog.Default()),
	}

	reactor := app.NewReactor(
		f.jobs,
		app.NewPolicyEngine(f.policies, nil),
		app.NewAuditRecorder(f.audits, f.clock, nil),
		f.sessions,
		f.waitlist,
		f.outbox,
		f.appointments,
		f.clock,
		nil,
	)
	reactor.Subscribe(f.bus)
	return f
}

func (f *reactorFixture) denyAction(action string) {
	f.policies.rules = append(f.policies.rules, domain.PolicyRule{
		ID: "deny-" + action, TenantID: "t1", Action: action,
		Effect: domain.EffectDeny, Priority: 10, IsActive: true,
	})
}

func TestBookingCreatedSchedulesConfirmationAndReminder(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	slotStart := reactorTime.Add(48 * time.Hour)
	f.bus.Publish(ctx, domain.BookingCreated{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		Appointment: domain.Appointment{
			ID: "appt-1", TenantID: "t1", Service: "haircut",
			SlotStart: slotStart, SlotEnd: slotStart.Add(30 * time.Minute),
		},
	})

	confirmations := f.jobs.byType(domain.JobTypeBookingConfirmation)
	if len(confirmations) != 1 {
		t.Fatalf("expected 1 confirmation job, got %d", len(confirmations))
	}
	if !confirmations[0].RunAt.Equal(reactorTime) {
		t.Errorf("expected confirmation to run immediately, got %v", confirmations[0].RunAt)
	}
	if confirmations[0].CorrelationID != "appt-1" {
		t.Errorf("expected correlation appt-1, got %s", confirmations[0].CorrelationID)
	}

	reminders := f.jobs.byType(domain.JobTypeBookingReminder)
	if len(reminders) != 1 {
		t.Fatalf("expected 1 reminder job, got %d", len(reminders))
	}
	wantRunAt := slotStart.Add(-24 * time.Hour)
	if !reminders[0].RunAt.Equal(wantRunAt) {
		t.Errorf("expected reminder at %v, got %v", wantRunAt, reminders[0].RunAt)
	}

	var args domain.BookingReminderArgs
	if err := json.Unmarshal(reminders[0].Payload, &args); err != nil {
		t.Fatalf("unmarshaling reminder payload: %v", err)
	}
	if args.AppointmentID != "appt-1" {
		t.Errorf("expected payload appointment appt-1, got %s", args.AppointmentID)
	}
}

func TestBookingCreatedSkipsReminderForImminentSlot(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	slotStart := reactorTime.Add(2 * time.Hour)
	f.bus.Publish(ctx, domain.BookingCreated{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		Appointment: domain.Appointment{
			ID: "appt-1", TenantID: "t1", Service: "haircut",
			SlotStart: slotStart, SlotEnd: slotStart.Add(30 * time.Minute),
		},
	})

	if reminders := f.jobs.byType(domain.JobTypeBookingReminder); len(reminders) != 0 {
		t.Errorf("expected no reminder inside the lead window, got %d", len(reminders))
	}
	if confirmations := f.jobs.byType(domain.JobTypeBookingConfirmation); len(confirmations) != 1 {
		t.Errorf("expected confirmation regardless, got %d", len(confirmations))
	}
}

func TestBookingCreatedRespectsPolicy(t *testing.T) {
	f := newReactorFixture(t)
	f.denyAction(domain.ActionBookingReminder)
	ctx := context.Background()

	slotStart := reactorTime.Add(48 * time.Hour)
	f.bus.Publish(ctx, domain.BookingCreated{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		Appointment: domain.Appointment{
			ID: "appt-1", TenantID: "t1", Service: "haircut",
			SlotStart: slotStart, SlotEnd: slotStart.Add(30 * time.Minute),
		},
	})

	if reminders := f.jobs.byType(domain.JobTypeBookingReminder); len(reminders) != 0 {
		t.Errorf("expected reminder denied by policy, got %d", len(reminders))
	}
	if confirmations := f.jobs.byType(domain.JobTypeBookingConfirmation); len(confirmations) != 1 {
		t.Errorf("expected confirmation unaffected, got %d", len(confirmations))
	}
}

func TestBookingCreatedAuditRedactsContactFields(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	slotStart := reactorTime.Add(48 * time.Hour)
	f.bus.Publish(ctx, domain.BookingCreated{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		Appointment: domain.Appointment{
			ID: "appt-1", TenantID: "t1", Service: "haircut",
			CustomerName: "Dana", CustomerEmail: "dana@example.com",
			SlotStart: slotStart, SlotEnd: slotStart.Add(30 * time.Minute),
		},
	})

	entries := f.audits.byEventType("booking.created")
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Payload["customer_email"] != "[REDACTED]" {
		t.Errorf("expected email redacted, got %v", entries[0].Payload["customer_email"])
	}
	if entries[0].Payload["customer_name"] != "Dana" {
		t.Errorf("expected name preserved, got %v", entries[0].Payload["customer_name"])
	}
}

func TestBookingCancelledCleansUp(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	reminder := domain.NewJob("job-reminder", "t1", domain.JobTypeBookingReminder, nil, reactorTime)
	reminder.CorrelationID = "appt-1"
	if err := f.jobs.Enqueue(ctx, reminder); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := f.outbox.EnqueueOutbox(ctx, domain.OutboxMessage{
		ID: "m1", TenantID: "t1", AppointmentID: "appt-1",
		Status: domain.OutboxQueued,
	}); err != nil {
		t.Fatalf("EnqueueOutbox failed: %v", err)
	}

	f.bus.Publish(ctx, domain.BookingCancelled{
		EventMeta:     domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		AppointmentID: "appt-1",
		Reason:        "customer request",
	})

	got, err := f.jobs.GetByID(ctx, "job-reminder")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.JobCancelled {
		t.Errorf("expected reminder cancelled, got %s", got.Status)
	}
	if f.outbox.aborted != 1 {
		t.Errorf("expected 1 aborted outbox message, got %d", f.outbox.aborted)
	}
	if notices := f.jobs.byType(domain.JobTypeCancellationNotice); len(notices) != 1 {
		t.Errorf("expected 1 cancellation notice, got %d", len(notices))
	}
}

func TestBookingCancelledSubActionsAreIsolated(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	// Outbox failure must not block the cancellation notice.
	f.outbox.abortErr = errors.New("outbox gone")

	f.bus.Publish(ctx, domain.BookingCancelled{
		EventMeta:     domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		AppointmentID: "appt-1",
	})

	if notices := f.jobs.byType(domain.JobTypeCancellationNotice); len(notices) != 1 {
		t.Errorf("expected notice despite outbox failure, got %d", len(notices))
	}
}

func TestHoldExpiredSchedulesFollowupWithCooldown(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	f.sessions.sessions["sess-1"] = domain.Session{
		ID: "sess-1", TenantID: "t1",
		Metadata: map[string]any{"client_email": "dana@example.com"},
	}

	event := domain.HoldExpired{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		HoldID:    "hold-1", SessionID: "sess-1",
		SlotStart: reactorTime.Add(time.Hour),
		SlotEnd:   reactorTime.Add(90 * time.Minute),
	}

	f.bus.Publish(ctx, event)
	if followups := f.jobs.byType(domain.JobTypeHoldFollowup); len(followups) != 1 {
		t.Fatalf("expected 1 followup, got %d", len(followups))
	}

	// A second expiry within the cooldown is suppressed.
	f.clock.Advance(10 * time.Minute)
	event.HoldID = "hold-2"
	f.bus.Publish(ctx, event)
	if followups := f.jobs.byType(domain.JobTypeHoldFollowup); len(followups) != 1 {
		t.Errorf("expected cooldown to suppress second followup, got %d", len(followups))
	}

	// After the cooldown the next expiry goes through.
	f.clock.Advance(25 * time.Minute)
	event.HoldID = "hold-3"
	f.bus.Publish(ctx, event)
	if followups := f.jobs.byType(domain.JobTypeHoldFollowup); len(followups) != 2 {
		t.Errorf("expected followup after cooldown, got %d", len(followups))
	}
}

func TestHoldExpiredSkipsSessionsWithoutContact(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	f.sessions.sessions["sess-1"] = domain.Session{ID: "sess-1", TenantID: "t1"}

	f.bus.Publish(ctx, domain.HoldExpired{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		HoldID:    "hold-1", SessionID: "sess-1",
	})
	if followups := f.jobs.byType(domain.JobTypeHoldFollowup); len(followups) != 0 {
		t.Errorf("expected no followup without contact info, got %d", len(followups))
	}

	// Unknown sessions are skipped silently, not an error.
	f.bus.Publish(ctx, domain.HoldExpired{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		HoldID:    "hold-2", SessionID: "sess-missing",
	})
	if followups := f.jobs.byType(domain.JobTypeHoldFollowup); len(followups) != 0 {
		t.Errorf("expected no followup for unknown session, got %d", len(followups))
	}
}

func TestHoldExpiredAuditedDespiteDeniedFollowup(t *testing.T) {
	f := newReactorFixture(t)
	f.denyAction(domain.ActionHoldFollowup)
	ctx := context.Background()

	f.bus.Publish(ctx, domain.HoldExpired{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		HoldID:    "hold-1", SessionID: "sess-1",
	})

	if followups := f.jobs.byType(domain.JobTypeHoldFollowup); len(followups) != 0 {
		t.Errorf("expected no followup under deny policy, got %d", len(followups))
	}
	entries := f.audits.byEventType("hold.expired")
	if len(entries) != 1 {
		t.Fatalf("expected the expiry audited regardless of policy, got %d entries", len(entries))
	}
	if entries[0].EntityID != "hold-1" {
		t.Errorf("expected audit entity hold-1, got %s", entries[0].EntityID)
	}
}

func TestSlotOpenedOffersToMatchingEntriesFIFO(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	// 2026-03-02 is a Monday. slotStart lands on Wednesday 09:30.
	slotStart := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

	for i, entry := range []domain.WaitlistEntry{
		{ID: "w-any", Weekdays: nil},
		{ID: "w-wed", Weekdays: []time.Weekday{time.Wednesday}},
		{ID: "w-fri", Weekdays: []time.Weekday{time.Friday}},
		{ID: "w-late", TimeFrom: "14:00"},
		{ID: "w-window", TimeFrom: "09:00", TimeTo: "12:00"},
	} {
		entry.TenantID = "t1"
		entry.Service = "haircut"
		entry.Status = domain.WaitlistWaiting
		entry.CreatedAt = reactorTime.Add(time.Duration(i) * time.Minute)
		if err := f.waitlist.CreateWaitlistEntry(ctx, entry); err != nil {
			t.Fatalf("creating entry: %v", err)
		}
	}

	f.bus.Publish(ctx, domain.SlotOpened{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		SlotStart: slotStart, SlotEnd: slotStart.Add(30 * time.Minute),
		Service: "haircut", Reason: "cancellation",
	})

	offers := f.jobs.byType(domain.JobTypeWaitlistOffer)
	if len(offers) != 3 {
		t.Fatalf("expected 3 offers, got %d", len(offers))
	}

	wantNotified := []string{"w-any", "w-wed", "w-window"}
	if len(f.waitlist.notified) != len(wantNotified) {
		t.Fatalf("expected %d notified, got %v", len(wantNotified), f.waitlist.notified)
	}
	for i, id := range wantNotified {
		if f.waitlist.notified[i] != id {
			t.Errorf("position %d: expected %s notified, got %s", i, id, f.waitlist.notified[i])
		}
	}
}

func TestSlotOpenedCapsOffers(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		entry := domain.WaitlistEntry{
			ID: string(rune('a' + i)), TenantID: "t1", Service: "haircut",
			Status: domain.WaitlistWaiting, CreatedAt: reactorTime.Add(time.Duration(i) * time.Minute),
		}
		if err := f.waitlist.CreateWaitlistEntry(ctx, entry); err != nil {
			t.Fatalf("creating entry: %v", err)
		}
	}

	f.bus.Publish(ctx, domain.SlotOpened{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		SlotStart: reactorTime.Add(24 * time.Hour),
		SlotEnd:   reactorTime.Add(24*time.Hour + 30*time.Minute),
		Service:   "haircut",
	})

	if offers := f.jobs.byType(domain.JobTypeWaitlistOffer); len(offers) != 5 {
		t.Errorf("expected offers capped at 5, got %d", len(offers))
	}
}

func TestSlotOpenedAuditedWithoutMatches(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	// Empty waitlist, so no offer goes out.
	f.bus.Publish(ctx, domain.SlotOpened{
		EventMeta: domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		SlotStart: reactorTime.Add(24 * time.Hour),
		SlotEnd:   reactorTime.Add(24*time.Hour + 30*time.Minute),
		Service:   "haircut",
	})

	if offers := f.jobs.byType(domain.JobTypeWaitlistOffer); len(offers) != 0 {
		t.Fatalf("expected no offers, got %d", len(offers))
	}
	if entries := f.audits.byEventType("slot.opened"); len(entries) != 1 {
		t.Errorf("expected the opening audited with nobody waiting, got %d entries", len(entries))
	}
}

func TestCalendarRetryExhaustedEscalatesHighPriority(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	f.bus.Publish(ctx, domain.CalendarRetryExhausted{
		EventMeta:     domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		AppointmentID: "appt-1",
		Attempts:      7,
		LastError:     "503 from provider",
	})

	escalations := f.jobs.byType(domain.JobTypeCalendarEscalation)
	if len(escalations) != 1 {
		t.Fatalf("expected 1 escalation, got %d", len(escalations))
	}
	if escalations[0].Priority != domain.PriorityHigh {
		t.Errorf("expected high priority, got %d", escalations[0].Priority)
	}

	var args domain.CalendarEscalationArgs
	if err := json.Unmarshal(escalations[0].Payload, &args); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if args.Attempts != 7 || args.LastError != "503 from provider" {
		t.Errorf("expected failure details in payload, got %+v", args)
	}
}

func TestCalendarRetryExhaustedCarriesContactEmail(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	if err := f.appointments.CreateAppointment(ctx, domain.Appointment{
		ID: "appt-1", TenantID: "t1", Service: "haircut",
		CustomerName: "Dana", CustomerEmail: "dana@example.com",
	}); err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}

	f.bus.Publish(ctx, domain.CalendarRetryExhausted{
		EventMeta:     domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		AppointmentID: "appt-1",
		Attempts:      3,
		LastError:     "timeout",
	})

	escalations := f.jobs.byType(domain.JobTypeCalendarEscalation)
	if len(escalations) != 1 {
		t.Fatalf("expected 1 escalation, got %d", len(escalations))
	}
	var args domain.CalendarEscalationArgs
	if err := json.Unmarshal(escalations[0].Payload, &args); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if args.ContactEmail != "dana@example.com" {
		t.Errorf("expected contact email in payload, got %q", args.ContactEmail)
	}
}

func TestCalendarRetryExhaustedToleratesMissingAppointment(t *testing.T) {
	f := newReactorFixture(t)
	ctx := context.Background()

	f.bus.Publish(ctx, domain.CalendarRetryExhausted{
		EventMeta:     domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		AppointmentID: "appt-missing",
		Attempts:      3,
		LastError:     "timeout",
	})

	escalations := f.jobs.byType(domain.JobTypeCalendarEscalation)
	if len(escalations) != 1 {
		t.Fatalf("expected escalation without a matching appointment, got %d", len(escalations))
	}
	var args domain.CalendarEscalationArgs
	if err := json.Unmarshal(escalations[0].Payload, &args); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if args.ContactEmail != "" {
		t.Errorf("expected empty contact email, got %q", args.ContactEmail)
	}
}

func TestCalendarRetryExhaustedAuditedDespiteDeniedEscalation(t *testing.T) {
	f := newReactorFixture(t)
	f.denyAction(domain.ActionCalendarEscalation)
	ctx := context.Background()

	f.bus.Publish(ctx, domain.CalendarRetryExhausted{
		EventMeta:     domain.EventMeta{TenantID: "t1", Timestamp: reactorTime},
		AppointmentID: "appt-1",
		Attempts:      3,
		LastError:     "timeout",
	})

	if escalations := f.jobs.byType(domain.JobTypeCalendarEscalation); len(escalations) != 0 {
		t.Errorf("expected no escalation under deny policy, got %d", len(escalations))
	}
	entries := f.audits.byEventType("calendar.retry_exhausted")
	if len(entries) != 1 {
		t.Fatalf("expected the exhaustion audited regardless of policy, got %d entries", len(entries))
	}
	if entries[0].EntityID != "appt-1" {
		t.Errorf("expected audit entity appt-1, got %s", entries[0].EntityID)
	}
}

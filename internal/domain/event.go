package domain

import "time"

// EventName identifies a kind of domain event. Handlers subscribe by name.
type EventName string

const (
	EventBookingCreated         EventName = "booking.created"
	EventBookingCancelled       EventName = "booking.cancelled"
	EventHoldExpired            EventName = "hold.expired"
	EventSlotOpened             EventName = "slot.opened"
	EventCalendarRetryExhausted EventName = "calendar.retry_exhausted"
)

// Event is an immutable record of a significant state change, published on
// the in-process bus for reactive handling. Handlers receive the value by
// copy and must not retain mutable references into it.
type Event interface {
	Name() EventName
	Tenant() string
	OccurredAt() time.Time
}

// EventMeta carries the fields shared by every event variant.
type EventMeta struct {
	TenantID  string
	Timestamp time.Time
}

func (m EventMeta) Tenant() string        { return m.TenantID }
func (m EventMeta) OccurredAt() time.Time { return m.Timestamp }

// BookingCreated is published after an appointment has been committed.
type BookingCreated struct {
	EventMeta
	Appointment Appointment
	SessionID   string
}

func (BookingCreated) Name() EventName { return EventBookingCreated }

// BookingCancelled is published when an appointment is cancelled, by either
// side. Reason is free-form operator or customer text.
type BookingCancelled struct {
	EventMeta
	AppointmentID string
	Reason        string
}

func (BookingCancelled) Name() EventName { return EventBookingCancelled }

// HoldExpired is published when an availability hold lapses without the
// booking flow completing.
type HoldExpired struct {
	EventMeta
	HoldID    string
	SessionID string
	SlotStart time.Time
	SlotEnd   time.Time
}

func (HoldExpired) Name() EventName { return EventHoldExpired }

// SlotOpened is published when a calendar slot becomes free again, e.g.
// after a cancellation, so waitlisted customers can be offered it.
type SlotOpened struct {
	EventMeta
	SlotStart time.Time
	SlotEnd   time.Time
	Service   string
	Reason    string
}

func (SlotOpened) Name() EventName { return EventSlotOpened }

// CalendarRetryExhausted is published when writes to the external calendar
// provider have failed repeatedly and given up.
type CalendarRetryExhausted struct {
	EventMeta
	AppointmentID string
	Attempts      int
	LastError     string
}

func (CalendarRetryExhausted) Name() EventName { return EventCalendarRetryExhausted }

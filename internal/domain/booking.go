package domain

import (
	"strings"
	"time"
)

// AppointmentStatus represents the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is a committed booking on a tenant's calendar.
type Appointment struct {
	ID            string
	TenantID      string
	Service       string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	SlotStart     time.Time
	SlotEnd       time.Time
	Status        AppointmentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session is a conversational booking session owned by the excluded chat
// layer. Metadata carries whatever the conversation captured so far,
// including contact fields like client_email and client_phone.
type Session struct {
	ID         string
	TenantID   string
	CustomerID string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// ContactEmail returns the email captured during the session, if any.
func (s Session) ContactEmail() string {
	if v, ok := s.Metadata["client_email"].(string); ok {
		return v
	}
	return ""
}

// ContactPhone returns the phone number captured during the session, if any.
func (s Session) ContactPhone() string {
	if v, ok := s.Metadata["client_phone"].(string); ok {
		return v
	}
	return ""
}

// HasContactInfo reports whether the session captured a way to reach the client.
func (s Session) HasContactInfo() bool {
	return s.ContactEmail() != "" || s.ContactPhone() != ""
}

// WaitlistStatus represents the state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistNotified WaitlistStatus = "notified"
)

// WaitlistEntry is a customer waiting for a slot of a given service to
// open. Day and time preferences are optional; absence matches everything.
type WaitlistEntry struct {
	ID            string
	TenantID      string
	Service       string
	CustomerName  string
	CustomerEmail string
	// Weekdays the customer accepts. Empty matches any day.
	Weekdays []time.Weekday
	// TimeFrom and TimeTo bound the acceptable slot start, as "HH:MM"
	// local strings. Empty bounds match any time.
	TimeFrom  string
	TimeTo    string
	Status    WaitlistStatus
	CreatedAt time.Time
}

// MatchesSlot reports whether the entry's preferences accept a slot
// starting at slotStart.
func (e WaitlistEntry) MatchesSlot(slotStart time.Time) bool {
	if len(e.Weekdays) > 0 {
		found := false
		for _, d := range e.Weekdays {
			if d == slotStart.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	// "HH:MM" compares correctly as a string.
	hhmm := slotStart.Format("15:04")
	if e.TimeFrom != "" && strings.Compare(hhmm, e.TimeFrom) < 0 {
		return false
	}
	if e.TimeTo != "" && strings.Compare(hhmm, e.TimeTo) > 0 {
		return false
	}
	return true
}

// OutboxStatus represents the delivery state of an outbound message.
type OutboxStatus string

const (
	OutboxQueued  OutboxStatus = "queued"
	OutboxSent    OutboxStatus = "sent"
	OutboxAborted OutboxStatus = "aborted"
)

// OutboxMessage is an outbound notification staged for delivery by an
// external sender. Cancelling a booking aborts its queued messages.
type OutboxMessage struct {
	ID            string
	TenantID      string
	AppointmentID string
	Channel       string // "email" or "sms"
	Recipient     string
	Body          string
	Status        OutboxStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

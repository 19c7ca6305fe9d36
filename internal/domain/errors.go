package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrJobNotFound         = errors.New("job not found")
	ErrHoldNotFound        = errors.New("hold not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSessionNotFound     = errors.New("session not found")
)

// SlotConflictError is returned when a hold would overlap an unexpired hold
// on the same tenant's calendar.
type SlotConflictError struct {
	TenantID  string
	SlotStart time.Time
	SlotEnd   time.Time
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot %s-%s is already held for tenant %q",
		e.SlotStart.Format(time.RFC3339), e.SlotEnd.Format(time.RFC3339), e.TenantID)
}

// TransitionError is returned when a job state transition is not allowed.
type TransitionError struct {
	Event   JobEvent
	Current JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from status %q", e.Event, e.Current)
}

// UnknownJobTypeError is returned when a claimed job has no registered
// executor. This is misconfiguration, never retried.
type UnknownJobTypeError struct {
	Type string
}

func (e *UnknownJobTypeError) Error() string {
	return fmt.Sprintf("no executor registered for job type %q", e.Type)
}

// InvalidPayloadError is returned when a job's payload fails the shape
// validation its executor declared. Not retried; the payload will not
// become valid on its own.
type InvalidPayloadError struct {
	Type   string
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload for job type %q: %s", e.Type, e.Reason)
}

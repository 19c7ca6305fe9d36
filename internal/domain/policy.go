package domain

import "time"

// Effect is the outcome of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Policy action names. Each matches the check a reaction handler performs
// before enqueueing its job.
const (
	ActionBookingConfirmation = "booking_confirmation"
	ActionBookingReminder     = "booking_reminder"
	ActionCancellationNotice  = "cancellation_notice"
	ActionHoldFollowup        = "hold_followup"
	ActionWaitlistOffer       = "waitlist_offer"
	ActionCalendarEscalation  = "calendar_escalation"
)

// PolicyRule gates an action for a tenant. An empty TenantID makes the rule
// a global default, overridable by tenant-scoped rules. Rules are managed
// by an external admin surface; the engine only reads them.
type PolicyRule struct {
	ID       string
	TenantID string // empty = global default
	Action   string
	Effect   Effect
	// Conditions holds simple predicates matched against the evaluation
	// context: scalar values mean equality, list values mean membership.
	Conditions map[string]any
	Priority   int
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Decision is the result of evaluating an action against the active rules.
// MatchedRule is nil when no rule matched and the fail-open default applied.
type Decision struct {
	Effect      Effect
	MatchedRule *PolicyRule
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.Effect == EffectAllow }

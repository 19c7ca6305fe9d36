// Package app wires the orchestration core: the policy engine, the job
// runner, the reaction handlers that turn domain events into jobs, hold and
// availability services, and the audit recorder.
package app

import (
	"context"
	"log/slog"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// PolicyEngine evaluates whether a gated action may proceed for a tenant.
// It fails open: a store error or an empty rule set yields allow, so a
// misconfigured policy table can suppress notifications but never block
// bookings.
type PolicyEngine struct {
	store  domain.PolicyStore
	logger *slog.Logger
}

// NewPolicyEngine creates an engine reading rules from store.
func NewPolicyEngine(store domain.PolicyStore, logger *slog.Logger) *PolicyEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyEngine{store: store, logger: logger}
}

// Evaluate returns the decision for an action in the given evaluation
// context. Among matching rules the highest priority wins; on a priority
// tie a tenant-scoped rule beats a global one.
func (e *PolicyEngine) Evaluate(ctx context.Context, action, tenantID string, evalCtx map[string]any) domain.Decision {
	rules, err := e.store.ListActive(ctx, action, tenantID)
	if err != nil {
		e.logger.ErrorContext(ctx, "policy lookup failed, allowing by default",
			"action", action,
			"tenant_id", tenantID,
			"error", err,
		)
		return domain.Decision{Effect: domain.EffectAllow}
	}

	var best *domain.PolicyRule
	for i := range rules {
		rule := &rules[i]
		if !conditionsMatch(rule.Conditions, evalCtx) {
			continue
		}
		if best == nil || betterMatch(rule, best) {
			best = rule
		}
	}

	if best == nil {
		return domain.Decision{Effect: domain.EffectAllow}
	}
	return domain.Decision{Effect: best.Effect, MatchedRule: best}
}

// betterMatch reports whether a should replace b as the winning rule.
func betterMatch(a, b *domain.PolicyRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.TenantID != "" && b.TenantID == ""
}

// conditionsMatch checks every rule condition against the evaluation
// context: scalar values mean equality, list values mean membership. An
// absent context key fails the condition.
func conditionsMatch(conditions, evalCtx map[string]any) bool {
	for key, want := range conditions {
		got, ok := evalCtx[key]
		if !ok {
			return false
		}
		if list, ok := want.([]any); ok {
			if !contains(list, got) {
				return false
			}
			continue
		}
		if !scalarEqual(want, got) {
			return false
		}
	}
	return true
}

func contains(list []any, v any) bool {
	for _, item := range list {
		if scalarEqual(item, v) {
			return true
		}
	}
	return false
}

// scalarEqual compares condition scalars loosely enough to survive a JSON
// round trip, where all numbers come back as float64.
func scalarEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

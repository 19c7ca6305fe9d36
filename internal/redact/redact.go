// Package redact strips PII-shaped fields from structured payloads before
// they reach the audit log. Redaction is an allowlist-of-suspicion: only
// keys on the denylist (or matching its substring patterns) are replaced,
// so new PII-shaped fields must be named here to be caught.
package redact

import (
	"strings"
	"time"
)

// Marker replaces the value of every redacted field.
const Marker = "[REDACTED]"

// exactKeys are redacted on an exact (case-insensitive) name match.
var exactKeys = map[string]struct{}{
	"authorization": {},
	"api_key":       {},
	"credit_card":   {},
	"address":       {},
}

// patterns are redacted on a case-insensitive substring match, catching
// variants like client_email, phoneNumber, refresh_token.
var patterns = []string{"email", "phone", "token", "password", "secret", "ssn"}

func sensitive(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := exactKeys[lower]; ok {
		return true
	}
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Map returns a deep copy of payload with every sensitive value replaced by
// Marker. The input is never mutated. Temporal values are canonicalized to
// RFC 3339 strings; other primitives pass through unchanged.
func Map(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, val := range payload {
		if sensitive(key) {
			out[key] = Marker
			continue
		}
		out[key] = value(val)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Map(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = value(item)
		}
		return out
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

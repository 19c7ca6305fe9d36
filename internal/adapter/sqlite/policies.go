package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/neomorfeo/bookiq/internal/domain"
)

const policyColumns = `id, tenant_id, action, effect, conditions, priority, is_active, created_at, updated_at`

// ListActive returns active rules for the action scoped to the tenant or
// global (empty tenant_id).
func (s *Store) ListActive(ctx context.Context, action, tenantID string) ([]domain.PolicyRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM policy_rules
		 WHERE action = ? AND is_active = 1 AND tenant_id IN (?, '')
		 ORDER BY priority DESC`,
		action, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active policy rules: %w", err)
	}
	return collectRules(rows)
}

// List returns every rule visible to a tenant (its own plus globals), or
// all rules when tenantID is empty.
func (s *Store) List(ctx context.Context, tenantID string) ([]domain.PolicyRule, error) {
	query := `SELECT ` + policyColumns + ` FROM policy_rules`
	var args []any

	if tenantID != "" {
		query += ` WHERE tenant_id IN (?, '')`
		args = append(args, tenantID)
	}
	query += ` ORDER BY action, priority DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing policy rules: %w", err)
	}
	return collectRules(rows)
}

// Upsert inserts a rule or, on a (tenant_id, action, priority) collision,
// replaces the existing rule's effect, conditions, and active flag.
func (s *Store) Upsert(ctx context.Context, rule domain.PolicyRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling rule conditions: %w", err)
	}
	if rule.Conditions == nil {
		conditions = []byte(`{}`)
	}

	active := 0
	if rule.IsActive {
		active = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policy_rules (id, tenant_id, action, effect, conditions, priority, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, action, priority) DO UPDATE SET
		   effect = excluded.effect,
		   conditions = excluded.conditions,
		   is_active = excluded.is_active,
		   updated_at = excluded.updated_at`,
		rule.ID, rule.TenantID, rule.Action, string(rule.Effect),
		string(conditions), rule.Priority, active,
		formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting policy rule: %w", err)
	}
	return nil
}

func collectRules(rows *sql.Rows) ([]domain.PolicyRule, error) {
	defer rows.Close()

	var rules []domain.PolicyRule
	for rows.Next() {
		var r domain.PolicyRule
		var effect, conditions, createdAt, updatedAt string
		var active int

		err := rows.Scan(&r.ID, &r.TenantID, &r.Action, &effect, &conditions,
			&r.Priority, &active, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning policy rule: %w", err)
		}

		r.Effect = domain.Effect(effect)
		r.IsActive = active == 1
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshaling rule conditions: %w", err)
		}

		rules = append(rules, r)
	}
	return rules, rows.Err()
}

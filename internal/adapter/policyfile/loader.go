// Package policyfile seeds the policy store from a YAML file at boot.
// Operators ship default global rules with the deployment; tenant-specific
// rules are managed through the admin API afterwards.
package policyfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// Rule is one entry in the seed file.
type Rule struct {
	TenantID   string         `yaml:"tenant_id"`
	Action     string         `yaml:"action"`
	Effect     string         `yaml:"effect"`
	Conditions map[string]any `yaml:"conditions"`
	Priority   int            `yaml:"priority"`
	IsActive   *bool          `yaml:"is_active"`
}

// File is the top-level seed document.
type File struct {
	Rules []Rule `yaml:"rules"`
}

// Load reads the seed file and upserts its rules. A missing file is not an
// error: deployments without a seed simply start with an empty rule set.
// The store upserts on (tenant, action, priority), so loading is idempotent.
func Load(ctx context.Context, path string, store domain.PolicyStore, clk domain.Clock, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.InfoContext(ctx, "no policy seed file", "path", path)
			return nil
		}
		return fmt.Errorf("reading policy seed file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing policy seed file: %w", err)
	}

	now := clk.Now()
	for i, r := range file.Rules {
		if err := validateRule(i, r); err != nil {
			return err
		}

		active := true
		if r.IsActive != nil {
			active = *r.IsActive
		}

		rule := domain.PolicyRule{
			ID:         uuid.NewString(),
			TenantID:   r.TenantID,
			Action:     r.Action,
			Effect:     domain.Effect(r.Effect),
			Conditions: r.Conditions,
			Priority:   r.Priority,
			IsActive:   active,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := store.Upsert(ctx, rule); err != nil {
			return fmt.Errorf("seeding policy rule %q: %w", r.Action, err)
		}
	}

	logger.InfoContext(ctx, "policy seed loaded", "path", path, "rules", len(file.Rules))
	return nil
}

func validateRule(i int, r Rule) error {
	if r.Action == "" {
		return fmt.Errorf("policy seed rule %d: action is required", i)
	}
	switch domain.Effect(r.Effect) {
	case domain.EffectAllow, domain.EffectDeny:
		return nil
	default:
		return fmt.Errorf("policy seed rule %d: effect must be allow or deny, got %q", i, r.Effect)
	}
}

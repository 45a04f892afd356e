package deploy

import (
	"fmt"
	"time"

	"github.com/scrawlsbenches/rollout/target"
)

// StrategyType identifies a rollout strategy. The set is closed: five
// built-in strategies, dispatched through PlanStages rather than an open
// registry.
type StrategyType string

const (
	StrategyDirect    StrategyType = "direct"
	StrategyCanary    StrategyType = "canary"
	StrategyBlueGreen StrategyType = "bluegreen"
	StrategyRolling   StrategyType = "rolling"
	StrategyABTesting StrategyType = "abtesting"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (StrategyType, error) {
	switch StrategyType(s) {
	case StrategyDirect, StrategyCanary, StrategyBlueGreen, StrategyRolling, StrategyABTesting:
		return StrategyType(s), nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrValidation, s)
}

// StrategyConfig holds the tunable parameters for all strategies. Each
// strategy reads the fields that concern it and ignores the rest.
type StrategyConfig struct {
	// Stages are the canary traffic percentages, e.g. [10, 30, 50, 100].
	Stages []int `yaml:"stages,omitempty" json:"stages,omitempty"`
	// Soak is the monitoring period after each stage apply.
	Soak time.Duration `yaml:"soak,omitempty" json:"soak,omitempty"`
	// ValidationSoak is the extended zero-traffic validation period for
	// blue-green stage one.
	ValidationSoak time.Duration `yaml:"validation_soak,omitempty" json:"validation_soak,omitempty"`
	// StandbyPool is the target pool that receives the candidate in a
	// blue-green deployment.
	StandbyPool string `yaml:"standby_pool,omitempty" json:"standby_pool,omitempty"`
	// BatchSize is the number of targets per rolling batch.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	// SplitPercent is the traffic share for candidate B in A/B testing.
	SplitPercent int `yaml:"split_percent,omitempty" json:"split_percent,omitempty"`
	// Duration is the A/B observation window.
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
	// ManualConfirm requires an explicit Promote between stages instead of
	// auto-promotion on an OK verdict.
	ManualConfirm bool `yaml:"manual_confirm,omitempty" json:"manual_confirm,omitempty"`
}

// DefaultStrategyConfig returns the defaults for the given strategy.
func DefaultStrategyConfig(st StrategyType) StrategyConfig {
	switch st {
	case StrategyCanary:
		return StrategyConfig{
			Stages: []int{10, 30, 50, 100},
			Soak:   5 * time.Minute,
		}
	case StrategyBlueGreen:
		return StrategyConfig{
			ValidationSoak: 30 * time.Minute,
			Soak:           5 * time.Minute,
			StandbyPool:    "green",
		}
	case StrategyRolling:
		return StrategyConfig{
			BatchSize: 1,
			Soak:      5 * time.Minute,
		}
	case StrategyABTesting:
		return StrategyConfig{
			SplitPercent: 50,
			Duration:     time.Hour,
		}
	default:
		return StrategyConfig{}
	}
}

// withDefaults fills zero-valued fields from the strategy defaults.
func (c StrategyConfig) withDefaults(st StrategyType) StrategyConfig {
	d := DefaultStrategyConfig(st)
	if len(c.Stages) == 0 {
		c.Stages = d.Stages
	}
	if c.Soak == 0 {
		c.Soak = d.Soak
	}
	if c.ValidationSoak == 0 {
		c.ValidationSoak = d.ValidationSoak
	}
	if c.StandbyPool == "" {
		c.StandbyPool = d.StandbyPool
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.SplitPercent == 0 {
		c.SplitPercent = d.SplitPercent
	}
	if c.Duration == 0 {
		c.Duration = d.Duration
	}
	return c
}

// Validate checks the strategy-specific configuration. Failures are
// rejected before Start and never cause partial mutation.
func (c StrategyConfig) Validate(st StrategyType) error {
	if c.Soak < 0 || c.ValidationSoak < 0 || c.Duration < 0 {
		return fmt.Errorf("%w: soak durations must be non-negative", ErrValidation)
	}
	switch st {
	case StrategyCanary:
		for _, pct := range c.Stages {
			if pct <= 0 || pct > 100 {
				return fmt.Errorf("%w: stage percentage %d must be between 1 and 100", ErrValidation, pct)
			}
		}
		for i := 1; i < len(c.Stages); i++ {
			if c.Stages[i] < c.Stages[i-1] {
				return fmt.Errorf("%w: stage percentages must be non-decreasing, got %v", ErrValidation, c.Stages)
			}
		}
	case StrategyRolling:
		if c.BatchSize < 0 {
			return fmt.Errorf("%w: batch_size must not be negative", ErrValidation)
		}
	case StrategyABTesting:
		if c.SplitPercent < 0 || c.SplitPercent > 100 {
			return fmt.Errorf("%w: split_percent must be between 0 and 100", ErrValidation)
		}
	}
	return nil
}

// PlanStages computes the ordered stage plan for a deployment. It fails
// fast with ErrNoTargets on an empty target set, before any state is
// mutated.
func PlanStages(st StrategyType, cfg StrategyConfig, targets []target.Target) ([]Stage, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if err := cfg.Validate(st); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults(st)

	var stages []Stage
	var err error
	switch st {
	case StrategyDirect:
		stages = planDirect(cfg, targets)
	case StrategyCanary:
		stages = planCanary(cfg, targets)
	case StrategyBlueGreen:
		stages, err = planBlueGreen(cfg, targets)
	case StrategyRolling:
		stages = planRolling(cfg, targets)
	case StrategyABTesting:
		stages = planABTesting(cfg, targets)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrValidation, st)
	}
	if err != nil {
		return nil, err
	}

	for i := range stages {
		stages[i].Index = i
		if cfg.ManualConfirm && i > 0 {
			stages[i].ManualConfirm = true
			stages[i].AutoPromote = false
		}
	}
	return stages, nil
}

// ids returns the IDs of the given targets, preserving order.
func ids(targets []target.Target) []target.ID {
	out := make([]target.ID, len(targets))
	for i, t := range targets {
		out[i] = t.ID
	}
	return out
}

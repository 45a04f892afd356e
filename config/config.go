// Package config loads and validates the rollout server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrawlsbenches/rollout/applier"
	"github.com/scrawlsbenches/rollout/metric"
	"github.com/scrawlsbenches/rollout/rollback"
	"github.com/scrawlsbenches/rollout/target"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// EngineConfig configures the deployment engine.
type EngineConfig struct {
	// ApplyConcurrency bounds parallel target applies within one stage.
	ApplyConcurrency int `yaml:"apply_concurrency" json:"apply_concurrency"`
	// ApplyTimeout bounds each individual target apply call.
	ApplyTimeout time.Duration `yaml:"apply_timeout" json:"apply_timeout"`
	// PollInterval is how often soaking deployments re-check metrics.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// MetricsWindow is the lookback window for metric snapshots.
	MetricsWindow time.Duration `yaml:"metrics_window" json:"metrics_window"`
	// RequireApproval gates Start on an approved record for the
	// deployment's environment.
	RequireApproval bool `yaml:"require_approval" json:"require_approval"`
}

// HistoryConfig selects the deployment history backend.
type HistoryConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the SQLite path, ignored for the memory driver.
	DSN string `yaml:"dsn" json:"dsn"`
}

// Config is the root server configuration.
type Config struct {
	Server       ServerConfig              `yaml:"server" json:"server"`
	Engine       EngineConfig              `yaml:"engine" json:"engine"`
	Applier      applier.HTTPApplierConfig `yaml:"applier" json:"applier"`
	Rollback     rollback.Config           `yaml:"rollback" json:"rollback"`
	Thresholds   metric.Thresholds         `yaml:"thresholds" json:"thresholds"`
	ScoreWeights metric.ScoreWeights       `yaml:"score_weights" json:"score_weights"`
	History      HistoryConfig             `yaml:"history" json:"history"`
	// Targets seeds the target registry at boot. Further targets can be
	// registered over the API at runtime.
	Targets []target.Target `yaml:"targets,omitempty" json:"targets,omitempty"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			ApplyConcurrency: 5,
			ApplyTimeout:     30 * time.Second,
			PollInterval:     15 * time.Second,
			MetricsWindow:    5 * time.Minute,
		},
		Applier:      applier.DefaultHTTPApplierConfig(),
		Rollback:     rollback.DefaultConfig(),
		Thresholds:   metric.DefaultThresholds(),
		ScoreWeights: metric.DefaultScoreWeights(),
		History:      HistoryConfig{Driver: "memory"},
	}
}

// LoadFromFile reads a YAML configuration file and overlays it on the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Engine.ApplyConcurrency < 1 {
		return fmt.Errorf("engine.apply_concurrency must be at least 1, got %d", c.Engine.ApplyConcurrency)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive, got %s", c.Engine.PollInterval)
	}
	switch c.History.Driver {
	case "memory":
	case "sqlite":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown history driver %q", c.History.Driver)
	}
	if c.Thresholds.ErrorRateRatio < 0 || c.Thresholds.LatencyP95Ratio < 0 || c.Thresholds.ConnFailureRatio < 0 {
		return fmt.Errorf("threshold ratios must not be negative")
	}
	for i, t := range c.Targets {
		if t.ID == "" || t.Address == "" {
			return fmt.Errorf("targets[%d]: id and address are required", i)
		}
	}
	return nil
}

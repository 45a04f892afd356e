// Package rollback reverts a partially- or fully-rolled-out deployment to
// its pre-deployment state, target by target.
package rollback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scrawlsbenches/rollout/applier"
	"github.com/scrawlsbenches/rollout/deploy"
	"github.com/scrawlsbenches/rollout/target"
)

// Config configures the rollback controller.
type Config struct {
	// Concurrency bounds the parallel revert calls per rollback.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// CallTimeout bounds each individual target revert.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
}

// DefaultConfig returns conservative defaults sized to avoid overwhelming
// target infrastructure.
func DefaultConfig() Config {
	return Config{
		Concurrency: 5,
		CallTimeout: 30 * time.Second,
	}
}

// Controller reverts deployments. It is stateless and safe for use by
// multiple deployments at once; re-entrancy per deployment is prevented by
// the owning state machine, which never runs two rollbacks concurrently.
type Controller struct {
	applier applier.TargetApplier
	cfg     Config
	logger  *slog.Logger
}

// NewController creates a rollback controller.
func NewController(a applier.TargetApplier, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Controller{applier: a, cfg: cfg, logger: logger}
}

// Rollback reverts every target whose assignment deviates from the
// pre-deployment assignment captured at Start. Reverts are best-effort: a
// failed target is recorded and the remaining targets are still reverted,
// because leaving most of the fleet on the candidate is strictly worse
// than leaving one stray target for manual cleanup. The returned record's
// Complete flag is false if any revert failed; the caller must then mark
// the deployment Failed rather than RolledBack.
func (c *Controller) Rollback(ctx context.Context, dep *deploy.Deployment, set *target.Set, trigger deploy.RollbackTrigger, reason string) *deploy.RollbackRecord {
	rec := &deploy.RollbackRecord{
		ID:               uuid.New(),
		Trigger:          trigger,
		Reason:           reason,
		StageIndex:       dep.CurrentStage,
		PreviousArtifact: dep.Baseline,
		StartedAt:        time.Now(),
		Complete:         true,
	}

	var pending []target.Target
	for _, id := range dep.Targets {
		t, ok := set.Get(id)
		if !ok {
			continue
		}
		initial, tracked := dep.Initial[id]
		if tracked && t.Artifact == initial.Artifact && t.Weight == initial.Weight {
			continue // never touched, or already reverted
		}
		pending = append(pending, t)
	}

	c.logger.Info("rollback starting",
		"deployment", dep.ID,
		"trigger", trigger,
		"reason", reason,
		"targets", len(pending),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, t := range pending {
		g.Go(func() error {
			start := time.Now()
			callCtx, cancel := context.WithTimeout(gctx, c.cfg.CallTimeout)
			err := c.applier.Revert(callCtx, t)
			cancel()

			outcome := deploy.RevertOutcome{
				Target:   t.ID,
				OK:       err == nil,
				Duration: time.Since(start),
			}
			if err != nil {
				outcome.Error = err.Error()
				c.logger.Error("target revert failed", "deployment", dep.ID, "target", t.ID, "error", err)
			} else if initial, ok := dep.Initial[t.ID]; ok {
				_ = set.SetAssignment(t.ID, initial.Artifact, initial.Weight)
			}

			mu.Lock()
			rec.Outcomes = append(rec.Outcomes, outcome)
			if err != nil {
				rec.Complete = false
			}
			mu.Unlock()
			return nil // a failed revert never aborts the remaining targets
		})
	}
	_ = g.Wait()

	rec.Duration = time.Since(rec.StartedAt)
	c.logger.Info("rollback finished",
		"deployment", dep.ID,
		"complete", rec.Complete,
		"reverted", len(rec.Outcomes),
		"failed", len(rec.FailedTargets()),
		"duration", rec.Duration,
	)
	return rec
}

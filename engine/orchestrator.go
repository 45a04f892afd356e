package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrawlsbenches/rollout/config"
	"github.com/scrawlsbenches/rollout/deploy"
	"github.com/scrawlsbenches/rollout/target"
)

// CreateRequest describes a new deployment.
type CreateRequest struct {
	Environment string                `json:"environment,omitempty"`
	Artifact    string                `json:"artifact"`
	CandidateB  string                `json:"candidate_b,omitempty"`
	Baseline    string                `json:"baseline,omitempty"`
	Targets     []target.ID           `json:"targets"`
	Strategy    string                `json:"strategy"`
	Config      deploy.StrategyConfig `json:"config"`
	Initiator   string                `json:"initiator,omitempty"`
}

// Orchestrator is the entry point for deployment operations. It owns one
// machine per deployment and routes operator commands to it.
type Orchestrator struct {
	cfg    config.EngineConfig
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	machines map[uuid.UUID]*Machine
}

// NewOrchestrator creates an orchestrator sharing the given collaborators
// across all deployments.
func NewOrchestrator(cfg config.EngineConfig, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		machines: make(map[uuid.UUID]*Machine),
	}
}

// Create validates the request, computes the stage plan, and registers a
// pending deployment. Nothing on any target is touched; validation
// failures leave no trace.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*deploy.Deployment, error) {
	if req.Artifact == "" {
		return nil, fmt.Errorf("%w: artifact is required", deploy.ErrValidation)
	}
	strategy, err := deploy.ParseStrategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	if strategy == deploy.StrategyABTesting && req.CandidateB == "" {
		return nil, fmt.Errorf("%w: abtesting requires candidate_b", deploy.ErrValidation)
	}
	if len(req.Targets) == 0 {
		return nil, deploy.ErrNoTargets
	}

	targets, err := o.deps.Targets.Select(req.Targets)
	if err != nil {
		return nil, err
	}

	baseline := req.Baseline
	if baseline == "" {
		baseline = targets[0].Artifact
	}

	stages, err := deploy.PlanStages(strategy, req.Config, targets)
	if err != nil {
		return nil, err
	}

	dep := &deploy.Deployment{
		ID:          uuid.New(),
		Environment: req.Environment,
		Artifact:    req.Artifact,
		CandidateB:  req.CandidateB,
		Baseline:    baseline,
		Targets:     append([]target.ID(nil), req.Targets...),
		Strategy:    strategy,
		Config:      req.Config,
		Status:      deploy.StatusPending,
		Initiator:   req.Initiator,
		CreatedAt:   time.Now(),
	}
	if err := o.deps.Store.Save(ctx, dep); err != nil {
		return nil, err
	}

	m := NewMachine(dep, stages, o.cfg, o.deps)
	o.mu.Lock()
	o.machines[dep.ID] = m
	o.mu.Unlock()

	o.logger.Info("deployment created",
		"deployment", dep.ID,
		"strategy", strategy,
		"artifact", req.Artifact,
		"targets", len(req.Targets),
		"stages", len(stages),
	)
	return dep.Clone(), nil
}

// Start begins executing a pending deployment.
func (o *Orchestrator) Start(ctx context.Context, id uuid.UUID) error {
	m, err := o.machine(id)
	if err != nil {
		return err
	}
	return m.Start(ctx)
}

// Get returns the deployment record. Records survive machine completion
// through the history store, so past deployments stay queryable.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*deploy.Deployment, error) {
	o.mu.Lock()
	m, ok := o.machines[id]
	o.mu.Unlock()
	if ok {
		return m.Status(), nil
	}
	return o.deps.Store.Get(ctx, id)
}

// List returns all known deployments, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]*deploy.Deployment, error) {
	return o.deps.Store.List(ctx)
}

// Promote advances a deployment past its current soak or confirmation
// point. toStage -1 means the next stage.
func (o *Orchestrator) Promote(ctx context.Context, id uuid.UUID, toStage int) error {
	m, err := o.machine(id)
	if err != nil {
		return err
	}
	return m.Promote(ctx, toStage)
}

// Rollback manually reverts a deployment.
func (o *Orchestrator) Rollback(ctx context.Context, id uuid.UUID, reason string) error {
	m, err := o.machine(id)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "operator requested"
	}
	return m.Rollback(ctx, reason)
}

// Abort immediately rolls back a deployment. It is Rollback under an
// operator-supplied abort reason; the fleet is reverted the same way.
func (o *Orchestrator) Abort(ctx context.Context, id uuid.UUID, reason string) error {
	m, err := o.machine(id)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "operator abort"
	}
	return m.Rollback(ctx, reason)
}

// Shutdown stops all running machines and waits for them to finish, up to
// the context deadline. Rollbacks already in flight run to completion.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	machines := make([]*Machine, 0, len(o.machines))
	for _, m := range o.machines {
		machines = append(machines, m)
	}
	o.mu.Unlock()

	for _, m := range machines {
		m.Stop()
	}
	for _, m := range machines {
		if m.Status().Status == deploy.StatusPending {
			continue // never started, no goroutine to wait for
		}
		select {
		case <-m.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) machine(id uuid.UUID) (*Machine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.machines[id]
	if !ok {
		return nil, fmt.Errorf("deployment %s: %w", id, deploy.ErrNotFound)
	}
	return m, nil
}

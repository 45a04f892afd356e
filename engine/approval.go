package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/scrawlsbenches/rollout/deploy"
)

// ApprovalGate decides whether a deployment may start. The engine consults
// the gate once, at Start, before any target is touched.
type ApprovalGate interface {
	Check(ctx context.Context, d *deploy.Deployment) error
}

// AllowAll approves every deployment. It is the gate used when approvals
// are disabled.
type AllowAll struct{}

func (AllowAll) Check(context.Context, *deploy.Deployment) error { return nil }

// MemoryGate holds per-environment approvals in memory. An environment
// with no recorded approval is rejected.
type MemoryGate struct {
	mu       sync.Mutex
	approved map[string]string // environment -> approver
}

// NewMemoryGate creates an empty gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{approved: make(map[string]string)}
}

// Approve records an approval for the environment.
func (g *MemoryGate) Approve(environment, approver string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approved[environment] = approver
}

// Revoke removes the environment's approval.
func (g *MemoryGate) Revoke(environment string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.approved, environment)
}

func (g *MemoryGate) Check(_ context.Context, d *deploy.Deployment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.approved[d.Environment]; !ok {
		return fmt.Errorf("environment %q: %w", d.Environment, deploy.ErrNotApproved)
	}
	return nil
}

// Package applier defines the orchestrator's only point of contact with
// real target infrastructure, plus a reference HTTP implementation for
// data-plane agents.
package applier

import (
	"context"

	"github.com/scrawlsbenches/rollout/target"
)

// TargetApplier applies and reverts artifact assignments on a single
// target. Implementations wrap the real transport (HTTP backend call,
// Kubernetes API, cloud-provider API); the orchestrator treats every call
// as all-or-nothing per target and a timed-out call as a failure, never as
// success-pending.
type TargetApplier interface {
	// Apply routes the given traffic weight for the artifact on the
	// target. The in-memory target record is updated only after Apply
	// returns nil.
	Apply(ctx context.Context, t target.Target, artifact string, weight int) error

	// Revert restores the target's pre-deployment configuration.
	Revert(ctx context.Context, t target.Target) error

	// Fetch reads the artifact and weight currently live on the target.
	Fetch(ctx context.Context, t target.Target) (artifact string, weight int, err error)
}

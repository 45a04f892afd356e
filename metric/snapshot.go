// Package metric provides the metrics snapshot model and the comparator
// that decides whether live traffic has degraded relative to a baseline.
package metric

import (
	"context"
	"errors"
	"time"

	"github.com/scrawlsbenches/rollout/target"
)

// ErrUnavailable indicates the metrics backend could not produce a
// snapshot. The comparator maps it to a verdict according to its
// fail-open/fail-closed policy; it never propagates to API callers.
var ErrUnavailable = errors.New("metrics unavailable")

// Scope identifies which side of a deployment a snapshot covers.
type Scope string

const (
	ScopeBaseline  Scope = "baseline"
	ScopeCandidate Scope = "candidate"
	ScopeCombined  Scope = "combined"
)

// Snapshot is an immutable point-in-time view of traffic metrics for a
// target subset. A fresh value is created on every pull.
type Snapshot struct {
	SuccessRate    float64       `json:"success_rate"` // percent, 0-100
	ErrorRate      float64       `json:"error_rate"`   // percent, 0-100
	LatencyP50     time.Duration `json:"latency_p50"`
	LatencyP95     time.Duration `json:"latency_p95"`
	LatencyP99     time.Duration `json:"latency_p99"`
	RequestsPerSec float64       `json:"requests_per_sec"`
	ConnFailures   int64         `json:"conn_failures"`
	CollectedAt    time.Time     `json:"collected_at"`
	Scope          Scope         `json:"scope"`
}

// Query describes a snapshot pull: which targets, over what trailing
// window, and optionally restricted to traffic served by one artifact
// (used by A/B scoring, where two candidates share the same targets).
type Query struct {
	Targets  []target.ID
	Window   time.Duration
	Scope    Scope
	Artifact string
}

// Source pulls metrics snapshots from a metrics backend. Implementations
// live outside the orchestrator; the query language and storage are not
// its concern.
type Source interface {
	Snapshot(ctx context.Context, q Query) (*Snapshot, error)
}

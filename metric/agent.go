package metric

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"resty.dev/v3"

	"github.com/scrawlsbenches/rollout/target"
)

// AgentSource pulls metrics from the data-plane agents themselves. Each
// agent exposes GET {address}/v1/metrics reporting the traffic it served
// over the requested trailing window, optionally filtered to one artifact.
// Snapshots from individual agents are aggregated into one fleet-wide
// view.
type AgentSource struct {
	targets *target.Set
	client  *resty.Client
	logger  *slog.Logger
}

// NewAgentSource creates a source that resolves target addresses through
// the given set.
func NewAgentSource(targets *target.Set, callTimeout time.Duration, logger *slog.Logger) *AgentSource {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	client := resty.New().SetTimeout(callTimeout)
	return &AgentSource{targets: targets, client: client, logger: logger}
}

// Close releases the underlying HTTP client.
func (s *AgentSource) Close() error { return s.client.Close() }

type agentMetrics struct {
	SuccessRate    float64 `json:"success_rate"`
	ErrorRate      float64 `json:"error_rate"`
	LatencyP50Ms   float64 `json:"latency_p50_ms"`
	LatencyP95Ms   float64 `json:"latency_p95_ms"`
	LatencyP99Ms   float64 `json:"latency_p99_ms"`
	RequestsPerSec float64 `json:"requests_per_sec"`
	ConnFailures   int64   `json:"conn_failures"`
}

// Snapshot pulls per-agent metrics and merges them. Rates are weighted by
// each agent's request volume; latency percentiles take the worst agent,
// which errs on the side of rolling back. An agent that cannot be reached
// is skipped; if no agent answers, ErrUnavailable is returned and the
// comparator's fail-open/fail-closed policy decides.
func (s *AgentSource) Snapshot(ctx context.Context, q Query) (*Snapshot, error) {
	targets, err := s.targets.Select(q.Targets)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrUnavailable
	}

	var (
		merged   Snapshot
		totalRPS float64
		answered int
	)
	for _, t := range targets {
		m, err := s.pull(ctx, t, q)
		if err != nil {
			s.logger.Warn("agent metrics pull failed", "target", t.ID, "error", err)
			continue
		}
		answered++
		totalRPS += m.RequestsPerSec
		merged.SuccessRate += m.SuccessRate * m.RequestsPerSec
		merged.ErrorRate += m.ErrorRate * m.RequestsPerSec
		merged.RequestsPerSec += m.RequestsPerSec
		merged.ConnFailures += m.ConnFailures
		merged.LatencyP50 = maxDuration(merged.LatencyP50, msToDuration(m.LatencyP50Ms))
		merged.LatencyP95 = maxDuration(merged.LatencyP95, msToDuration(m.LatencyP95Ms))
		merged.LatencyP99 = maxDuration(merged.LatencyP99, msToDuration(m.LatencyP99Ms))
	}
	if answered == 0 {
		return nil, fmt.Errorf("no agent answered for %d target(s): %w", len(targets), ErrUnavailable)
	}

	if totalRPS > 0 {
		merged.SuccessRate /= totalRPS
		merged.ErrorRate /= totalRPS
	} else {
		merged.SuccessRate = 0
		merged.ErrorRate = 0
	}
	merged.CollectedAt = time.Now()
	merged.Scope = q.Scope
	return &merged, nil
}

func (s *AgentSource) pull(ctx context.Context, t target.Target, q Query) (*agentMetrics, error) {
	var m agentMetrics
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("window", q.Window.String()).
		SetQueryParam("artifact", q.Artifact).
		SetResult(&m).
		Get(t.Address + "/v1/metrics")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode())
	}
	return &m, nil
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

package metric

import (
	"fmt"
	"log/slog"
	"time"
)

// Thresholds configures the degradation checks. A zero ratio disables the
// corresponding check. When ErrorRateAbsDelta is non-zero it replaces the
// error-rate ratio check with an absolute percentage-point ceiling.
type Thresholds struct {
	ErrorRateRatio    float64 `yaml:"error_rate_ratio" json:"error_rate_ratio"`
	ErrorRateAbsDelta float64 `yaml:"error_rate_abs_delta" json:"error_rate_abs_delta"`
	LatencyP95Ratio   float64 `yaml:"latency_p95_ratio" json:"latency_p95_ratio"`
	ConnFailureRatio  float64 `yaml:"conn_failure_ratio" json:"conn_failure_ratio"`
	// FailOpen treats a missing or failed metrics pull as OK instead of
	// Degraded. Meant for environments without a metrics backend.
	FailOpen bool `yaml:"fail_open" json:"fail_open"`
}

// DefaultThresholds returns the default degradation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRateRatio:   1.5,
		LatencyP95Ratio:  1.5,
		ConnFailureRatio: 2.0,
	}
}

// Verdict is the comparator's decision. Reasons lists every breached
// threshold, not just the first, so rollback records are informative.
type Verdict struct {
	Degraded bool     `json:"degraded"`
	Reasons  []string `json:"reasons,omitempty"`
}

// ReasonUnavailable is the verdict reason recorded when the metrics pull
// itself failed and the comparator is fail-closed.
const ReasonUnavailable = "metrics-unavailable"

// Comparator compares candidate snapshots against a baseline using
// configured thresholds.
type Comparator struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// NewComparator creates a comparator with the given thresholds.
func NewComparator(t Thresholds, logger *slog.Logger) *Comparator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{thresholds: t, logger: logger}
}

// Thresholds returns the configured thresholds.
func (c *Comparator) Thresholds() Thresholds { return c.thresholds }

// Compare evaluates a candidate snapshot against the baseline. A nil
// snapshot on either side means the pull failed or never happened and is
// judged by the fail-open/fail-closed policy.
func (c *Comparator) Compare(baseline, candidate *Snapshot) Verdict {
	if baseline == nil || candidate == nil {
		if c.thresholds.FailOpen {
			c.logger.Warn("metrics unavailable, failing open")
			return Verdict{}
		}
		return Verdict{Degraded: true, Reasons: []string{ReasonUnavailable}}
	}

	var reasons []string

	if c.thresholds.ErrorRateAbsDelta > 0 {
		if candidate.ErrorRate > baseline.ErrorRate+c.thresholds.ErrorRateAbsDelta {
			reasons = append(reasons, fmt.Sprintf(
				"error-rate %.2f%% exceeds baseline %.2f%% by more than %.1fpp",
				candidate.ErrorRate, baseline.ErrorRate, c.thresholds.ErrorRateAbsDelta))
		}
	} else if c.thresholds.ErrorRateRatio > 0 {
		if candidate.ErrorRate > baseline.ErrorRate*c.thresholds.ErrorRateRatio {
			reasons = append(reasons, fmt.Sprintf(
				"error-rate %.2f%% exceeds baseline %.2f%% x%.1f",
				candidate.ErrorRate, baseline.ErrorRate, c.thresholds.ErrorRateRatio))
		}
	}

	if c.thresholds.LatencyP95Ratio > 0 && baseline.LatencyP95 > 0 {
		limit := time.Duration(float64(baseline.LatencyP95) * c.thresholds.LatencyP95Ratio)
		if candidate.LatencyP95 > limit {
			reasons = append(reasons, fmt.Sprintf(
				"p95 latency %s exceeds baseline %s x%.1f",
				candidate.LatencyP95, baseline.LatencyP95, c.thresholds.LatencyP95Ratio))
		}
	}

	if c.thresholds.ConnFailureRatio > 0 {
		limit := float64(baseline.ConnFailures) * c.thresholds.ConnFailureRatio
		if float64(candidate.ConnFailures) > limit && candidate.ConnFailures > baseline.ConnFailures {
			reasons = append(reasons, fmt.Sprintf(
				"connection failures %d exceed baseline %d x%.1f",
				candidate.ConnFailures, baseline.ConnFailures, c.thresholds.ConnFailureRatio))
		}
	}

	if len(reasons) > 0 {
		c.logger.Warn("metrics degraded", "reasons", reasons)
		return Verdict{Degraded: true, Reasons: reasons}
	}
	return Verdict{}
}

// ABWinner identifies the outcome of an A/B scoring comparison.
type ABWinner int

const (
	WinnerNone ABWinner = iota // tie: keep baseline
	WinnerA
	WinnerB
)

// String returns the winner label.
func (w ABWinner) String() string {
	switch w {
	case WinnerA:
		return "candidate-a"
	case WinnerB:
		return "candidate-b"
	default:
		return "none"
	}
}

// ScoreWeights weights the per-metric votes in A/B scoring mode.
type ScoreWeights struct {
	ErrorRate  float64 `yaml:"error_rate" json:"error_rate"`
	LatencyP95 float64 `yaml:"latency_p95" json:"latency_p95"`
	Throughput float64 `yaml:"throughput" json:"throughput"`
}

// DefaultScoreWeights weights error rate heaviest, then latency, then
// throughput.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{ErrorRate: 3, LatencyP95: 2, Throughput: 1}
}

// Score runs the weighted multi-metric comparison for A/B testing. Each
// metric casts a weighted vote: lower error rate wins, lower p95 wins,
// higher throughput wins. A missing snapshot on either side, or an equal
// total, is a tie and the caller keeps the baseline.
func (c *Comparator) Score(a, b *Snapshot, w ScoreWeights) ABWinner {
	if a == nil || b == nil {
		return WinnerNone
	}

	var scoreA, scoreB float64

	switch {
	case a.ErrorRate < b.ErrorRate:
		scoreA += w.ErrorRate
	case b.ErrorRate < a.ErrorRate:
		scoreB += w.ErrorRate
	}
	switch {
	case a.LatencyP95 < b.LatencyP95:
		scoreA += w.LatencyP95
	case b.LatencyP95 < a.LatencyP95:
		scoreB += w.LatencyP95
	}
	switch {
	case a.RequestsPerSec > b.RequestsPerSec:
		scoreA += w.Throughput
	case b.RequestsPerSec > a.RequestsPerSec:
		scoreB += w.Throughput
	}

	c.logger.Info("ab scoring complete", "score_a", scoreA, "score_b", scoreB)

	switch {
	case scoreA > scoreB:
		return WinnerA
	case scoreB > scoreA:
		return WinnerB
	default:
		return WinnerNone
	}
}

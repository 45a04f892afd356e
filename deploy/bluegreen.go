package deploy

import (
	"fmt"

	"github.com/scrawlsbenches/rollout/target"
)

// planBlueGreen produces the two blue-green stages: deploy the candidate
// to the standby pool at zero traffic and run the extended validation
// soak, then flip all traffic from the active pool to the standby pool at
// once. The pools must be disjoint and both non-empty; targets declare
// their pool membership via the Pool label.
func planBlueGreen(cfg StrategyConfig, targets []target.Target) ([]Stage, error) {
	var standby, active []target.Target
	for _, t := range targets {
		if t.Pool == cfg.StandbyPool {
			standby = append(standby, t)
		} else {
			active = append(active, t)
		}
	}
	if len(standby) == 0 {
		return nil, fmt.Errorf("%w: no targets in standby pool %q", ErrValidation, cfg.StandbyPool)
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: every target is in standby pool %q", ErrValidation, cfg.StandbyPool)
	}

	validate := Stage{
		Applies: []StageApply{{
			Targets:  ids(standby),
			Artifact: ArtifactCandidate,
			Weight:   0,
		}},
		Soak:        cfg.ValidationSoak,
		Checks:      []string{"standby-health"},
		AutoPromote: true,
	}

	// The flip is instantaneous: standby goes to full traffic and the old
	// active pool to zero in the same stage. The soak afterwards is the
	// post-flip monitoring window; a degraded verdict there flips back via
	// the standard rollback path, which restores the captured
	// pre-deployment assignments rather than redeploying.
	flip := Stage{
		Applies: []StageApply{
			{Targets: ids(standby), Artifact: ArtifactCandidate, Weight: 100},
			{Targets: ids(active), Artifact: ArtifactBaseline, Weight: 0},
		},
		Soak:        cfg.Soak,
		Checks:      []string{"error-rate", "latency-p95", "conn-failures"},
		AutoPromote: true,
	}

	return []Stage{validate, flip}, nil
}

package deploy

import "github.com/scrawlsbenches/rollout/target"

// planCanary produces one stage per configured traffic percentage, each
// shifting the whole fleet's candidate weight to that percentage and then
// soaking. Duplicate percentages are kept and run sequentially with their
// configured soak; stages are never collapsed. If the configured list does
// not end at full traffic, a final 100% stage is appended so the plan
// always converges.
func planCanary(cfg StrategyConfig, targets []target.Target) []Stage {
	pcts := cfg.Stages
	if len(pcts) == 0 || pcts[len(pcts)-1] != 100 {
		pcts = append(append([]int{}, pcts...), 100)
	}

	all := ids(targets)
	stages := make([]Stage, 0, len(pcts))
	for _, pct := range pcts {
		stages = append(stages, Stage{
			Applies: []StageApply{{
				Targets:  all,
				Artifact: ArtifactCandidate,
				Weight:   pct,
			}},
			Soak:        cfg.Soak,
			Checks:      []string{"error-rate", "latency-p95", "conn-failures"},
			AutoPromote: true,
		})
	}
	return stages
}

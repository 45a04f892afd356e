package deploy

import "github.com/scrawlsbenches/rollout/target"

// planRolling produces ceil(len(targets)/batchSize) stages. Each stage
// moves the next batch to the candidate at full weight while earlier
// batches stay untouched: coverage grows by target count, not by traffic
// percentage on a fixed set. A batch size of at least the target count
// degenerates to a direct deployment.
func planRolling(cfg StrategyConfig, targets []target.Target) []Stage {
	if cfg.BatchSize >= len(targets) {
		return planDirect(cfg, targets)
	}

	var stages []Stage
	for start := 0; start < len(targets); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(targets) {
			end = len(targets)
		}
		stages = append(stages, Stage{
			Applies: []StageApply{{
				Targets:  ids(targets[start:end]),
				Artifact: ArtifactCandidate,
				Weight:   100,
			}},
			Soak:        cfg.Soak,
			Checks:      []string{"error-rate", "latency-p95"},
			AutoPromote: true,
		})
	}
	return stages
}

package deploy

import "github.com/scrawlsbenches/rollout/target"

// planDirect produces a single full-traffic stage with no soak.
func planDirect(_ StrategyConfig, targets []target.Target) []Stage {
	return []Stage{{
		Applies: []StageApply{{
			Targets:  ids(targets),
			Artifact: ArtifactCandidate,
			Weight:   100,
		}},
		Checks:      []string{"apply-ack"},
		AutoPromote: true,
	}}
}

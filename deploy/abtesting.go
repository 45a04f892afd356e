package deploy

import "github.com/scrawlsbenches/rollout/target"

// planABTesting produces one extended observation stage splitting traffic
// between the two candidates, then a final stage promoting the scoring
// winner to full traffic. The winner is unknown at planning time, so the
// final stage carries the ArtifactWinner kind which the state machine
// resolves after scoring; a tie keeps the baseline and rolls the split
// back instead.
func planABTesting(cfg StrategyConfig, targets []target.Target) []Stage {
	all := ids(targets)

	split := Stage{
		Applies: []StageApply{
			{Targets: all, Artifact: ArtifactCandidate, Weight: 100 - cfg.SplitPercent},
			{Targets: all, Artifact: ArtifactCandidateB, Weight: cfg.SplitPercent},
		},
		Soak:        cfg.Duration,
		Checks:      []string{"ab-score"},
		AutoPromote: true,
	}

	promote := Stage{
		Applies: []StageApply{{
			Targets:  all,
			Artifact: ArtifactWinner,
			Weight:   100,
		}},
		Checks:      []string{"apply-ack"},
		AutoPromote: true,
	}

	return []Stage{split, promote}
}

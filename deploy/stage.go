package deploy

import (
	"time"

	"github.com/scrawlsbenches/rollout/target"
)

// ArtifactKind names which artifact a stage apply refers to. The planner
// does not know concrete artifact references; the state machine resolves
// the kind against the deployment when executing the stage.
type ArtifactKind string

const (
	ArtifactCandidate  ArtifactKind = "candidate"
	ArtifactCandidateB ArtifactKind = "candidate-b"
	ArtifactBaseline   ArtifactKind = "baseline"
	// ArtifactWinner is resolved to the A/B scoring winner at execution
	// time. It only appears in the final stage of an abtesting plan.
	ArtifactWinner ArtifactKind = "winner"
)

// StageApply is one group of applier calls within a stage: set the given
// artifact to the given traffic weight on each listed target.
type StageApply struct {
	Targets  []target.ID  `json:"targets"`
	Artifact ArtifactKind `json:"artifact"`
	Weight   int          `json:"weight"`
}

// Stage is one step of a rollout plan. Stages are computed once at
// deployment creation and immutable afterwards.
type Stage struct {
	Index int `json:"index"`

	// Applies are executed in order; within one group the per-target calls
	// fan out with bounded parallelism.
	Applies []StageApply `json:"applies"`

	// Soak is the minimum monitoring period after the applies succeed.
	// Metrics are polled on an interval during the soak so a degrading
	// trend can trigger rollback before the full duration elapses.
	Soak time.Duration `json:"soak"`

	Checks []string `json:"checks,omitempty"`

	// AutoPromote advances to the next stage without operator action when
	// the soak ends with an OK verdict. ManualConfirm instead parks the
	// deployment in Paused until an explicit Promote.
	AutoPromote   bool `json:"auto_promote"`
	ManualConfirm bool `json:"manual_confirm"`
}

// CandidateWeight returns the highest candidate traffic weight this stage
// establishes, for status reporting.
func (s Stage) CandidateWeight() int {
	w := 0
	for _, a := range s.Applies {
		if a.Artifact == ArtifactBaseline {
			continue
		}
		if a.Weight > w {
			w = a.Weight
		}
	}
	return w
}

// PromotesWinner reports whether this stage promotes the A/B scoring
// winner.
func (s Stage) PromotesWinner() bool {
	for _, a := range s.Applies {
		if a.Artifact == ArtifactWinner {
			return true
		}
	}
	return false
}

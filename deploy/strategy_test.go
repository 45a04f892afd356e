package deploy

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/scrawlsbenches/rollout/target"
)

func testTargets(n int) []target.Target {
	out := make([]target.Target, n)
	for i := range out {
		out[i] = target.Target{
			ID:       target.ID(fmt.Sprintf("t-%d", i)),
			Artifact: "v1",
			Weight:   100,
			Healthy:  true,
		}
	}
	return out
}

func pooledTargets(blue, green int) []target.Target {
	var out []target.Target
	for i := 0; i < blue; i++ {
		out = append(out, target.Target{ID: target.ID(fmt.Sprintf("blue-%d", i)), Pool: "blue", Artifact: "v1", Weight: 100})
	}
	for i := 0; i < green; i++ {
		out = append(out, target.Target{ID: target.ID(fmt.Sprintf("green-%d", i)), Pool: "green", Artifact: "v1", Weight: 0})
	}
	return out
}

func TestPlanStagesNoTargets(t *testing.T) {
	for _, st := range []StrategyType{StrategyDirect, StrategyCanary, StrategyBlueGreen, StrategyRolling, StrategyABTesting} {
		_, err := PlanStages(st, StrategyConfig{}, nil)
		if !errors.Is(err, ErrNoTargets) {
			t.Errorf("%s: expected ErrNoTargets, got %v", st, err)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	if _, err := ParseStrategy("canary"); err != nil {
		t.Errorf("canary should parse: %v", err)
	}
	if _, err := ParseStrategy("yolo"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown strategy, got %v", err)
	}
}

func TestPlanDirect(t *testing.T) {
	stages, err := PlanStages(StrategyDirect, StrategyConfig{}, testTargets(3))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(stages))
	}
	st := stages[0]
	if st.CandidateWeight() != 100 {
		t.Errorf("expected weight 100, got %d", st.CandidateWeight())
	}
	if st.Soak != 0 {
		t.Errorf("direct should have no soak, got %s", st.Soak)
	}
	if len(st.Applies[0].Targets) != 3 {
		t.Errorf("expected all 3 targets, got %d", len(st.Applies[0].Targets))
	}
}

func TestPlanCanaryDefaults(t *testing.T) {
	stages, err := PlanStages(StrategyCanary, StrategyConfig{}, testTargets(4))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []int{10, 30, 50, 100}
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(stages))
	}
	for i, w := range want {
		if stages[i].CandidateWeight() != w {
			t.Errorf("stage %d: expected weight %d, got %d", i, w, stages[i].CandidateWeight())
		}
		if stages[i].Index != i {
			t.Errorf("stage %d: index %d", i, stages[i].Index)
		}
		if stages[i].Soak != 5*time.Minute {
			t.Errorf("stage %d: expected 5m soak, got %s", i, stages[i].Soak)
		}
		if len(stages[i].Applies[0].Targets) != 4 {
			t.Errorf("stage %d: canary covers the whole fleet", i)
		}
	}
}

func TestPlanCanaryAppendsFinalStage(t *testing.T) {
	stages, err := PlanStages(StrategyCanary, StrategyConfig{Stages: []int{10, 50}}, testTargets(2))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 3 || stages[2].CandidateWeight() != 100 {
		t.Errorf("expected trailing 100%% stage, got %d stages final weight %d",
			len(stages), stages[len(stages)-1].CandidateWeight())
	}
}

func TestPlanCanaryDuplicatePercentagesKept(t *testing.T) {
	stages, err := PlanStages(StrategyCanary, StrategyConfig{Stages: []int{50, 50, 100}}, testTargets(2))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 3 {
		t.Errorf("duplicate stages must not be collapsed: got %d stages", len(stages))
	}
}

func TestPlanCanaryValidation(t *testing.T) {
	cases := []struct {
		name   string
		stages []int
	}{
		{"zero percent", []int{0, 100}},
		{"above hundred", []int{10, 120}},
		{"decreasing", []int{50, 10, 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PlanStages(StrategyCanary, StrategyConfig{Stages: tc.stages}, testTargets(2))
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestPlanBlueGreen(t *testing.T) {
	stages, err := PlanStages(StrategyBlueGreen, StrategyConfig{}, pooledTargets(3, 3))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}

	validate := stages[0]
	if validate.Applies[0].Weight != 0 {
		t.Errorf("validation stage deploys at zero weight, got %d", validate.Applies[0].Weight)
	}
	if validate.Soak != 30*time.Minute {
		t.Errorf("expected 30m validation soak, got %s", validate.Soak)
	}
	if len(validate.Applies[0].Targets) != 3 {
		t.Errorf("validation stage covers the standby pool only")
	}

	flip := stages[1]
	if len(flip.Applies) != 2 {
		t.Fatalf("flip stage needs both pools, got %d apply groups", len(flip.Applies))
	}
	if flip.Applies[0].Artifact != ArtifactCandidate || flip.Applies[0].Weight != 100 {
		t.Errorf("flip: standby pool to candidate at 100, got %s/%d", flip.Applies[0].Artifact, flip.Applies[0].Weight)
	}
	if flip.Applies[1].Artifact != ArtifactBaseline || flip.Applies[1].Weight != 0 {
		t.Errorf("flip: active pool to baseline at 0, got %s/%d", flip.Applies[1].Artifact, flip.Applies[1].Weight)
	}
}

func TestPlanBlueGreenPoolValidation(t *testing.T) {
	if _, err := PlanStages(StrategyBlueGreen, StrategyConfig{}, pooledTargets(3, 0)); !errors.Is(err, ErrValidation) {
		t.Errorf("empty standby pool: expected ErrValidation, got %v", err)
	}
	if _, err := PlanStages(StrategyBlueGreen, StrategyConfig{}, pooledTargets(0, 3)); !errors.Is(err, ErrValidation) {
		t.Errorf("empty active pool: expected ErrValidation, got %v", err)
	}
}

func TestPlanRollingBatches(t *testing.T) {
	stages, err := PlanStages(StrategyRolling, StrategyConfig{BatchSize: 5}, testTargets(20))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 4 {
		t.Fatalf("20 targets / batch 5: expected 4 stages, got %d", len(stages))
	}
	seen := make(map[target.ID]bool)
	for i, st := range stages {
		if len(st.Applies[0].Targets) != 5 {
			t.Errorf("stage %d: expected batch of 5, got %d", i, len(st.Applies[0].Targets))
		}
		if st.Applies[0].Weight != 100 {
			t.Errorf("stage %d: batches go to full weight, got %d", i, st.Applies[0].Weight)
		}
		for _, id := range st.Applies[0].Targets {
			if seen[id] {
				t.Errorf("stage %d: target %s appears in more than one batch", i, id)
			}
			seen[id] = true
		}
	}
	if len(seen) != 20 {
		t.Errorf("expected all 20 targets covered, got %d", len(seen))
	}
}

func TestPlanRollingUnevenBatch(t *testing.T) {
	stages, err := PlanStages(StrategyRolling, StrategyConfig{BatchSize: 3}, testTargets(7))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	if n := len(stages[2].Applies[0].Targets); n != 1 {
		t.Errorf("final batch should hold the remainder (1), got %d", n)
	}
}

func TestPlanRollingDegeneratesToDirect(t *testing.T) {
	stages, err := PlanStages(StrategyRolling, StrategyConfig{BatchSize: 10}, testTargets(4))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 1 {
		t.Fatalf("batch >= target count degenerates to direct, got %d stages", len(stages))
	}
	if stages[0].Soak != 0 {
		t.Errorf("degenerate plan should carry direct semantics, got soak %s", stages[0].Soak)
	}
}

func TestPlanABTesting(t *testing.T) {
	stages, err := PlanStages(StrategyABTesting, StrategyConfig{SplitPercent: 30}, testTargets(5))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected split + promote stages, got %d", len(stages))
	}

	split := stages[0]
	if split.Applies[0].Artifact != ArtifactCandidate || split.Applies[0].Weight != 70 {
		t.Errorf("candidate A share: %s/%d", split.Applies[0].Artifact, split.Applies[0].Weight)
	}
	if split.Applies[1].Artifact != ArtifactCandidateB || split.Applies[1].Weight != 30 {
		t.Errorf("candidate B share: %s/%d", split.Applies[1].Artifact, split.Applies[1].Weight)
	}
	if split.Soak != time.Hour {
		t.Errorf("expected default 1h observation window, got %s", split.Soak)
	}

	if !stages[1].PromotesWinner() {
		t.Error("final stage must promote the scoring winner")
	}
	if stages[1].Applies[0].Weight != 100 {
		t.Errorf("winner promotion goes to full weight, got %d", stages[1].Applies[0].Weight)
	}
}

func TestPlanManualConfirm(t *testing.T) {
	stages, err := PlanStages(StrategyCanary, StrategyConfig{ManualConfirm: true}, testTargets(2))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if stages[0].ManualConfirm {
		t.Error("first stage runs on Start without confirmation")
	}
	for _, st := range stages[1:] {
		if !st.ManualConfirm || st.AutoPromote {
			t.Errorf("stage %d: expected manual confirmation", st.Index)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusRolledBack}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusInProgress, StatusPaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRollbackRecordFailedTargets(t *testing.T) {
	r := RollbackRecord{Outcomes: []RevertOutcome{
		{Target: "t-0", OK: true},
		{Target: "t-1", OK: false, Error: "timeout"},
		{Target: "t-2", OK: true},
	}}
	failed := r.FailedTargets()
	if len(failed) != 1 || failed[0] != "t-1" {
		t.Errorf("expected [t-1], got %v", failed)
	}
}

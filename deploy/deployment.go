// Package deploy defines the deployment model and the stage planners for
// the built-in rollout strategies. Strategies are a closed set: each is a
// pure function from configuration and target list to an ordered stage
// plan, dispatched through PlanStages.
package deploy

import (
	"time"

	"github.com/google/uuid"

	"github.com/scrawlsbenches/rollout/metric"
	"github.com/scrawlsbenches/rollout/target"
)

// Status is the lifecycle state of a deployment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused" // sub-state of in_progress: awaiting manual confirmation
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// Deployment is the authoritative record of one rollout. It is owned by a
// single state machine instance for its lifetime and mutated only by that
// instance; once Status reaches a terminal value it is immutable.
type Deployment struct {
	ID          uuid.UUID `json:"id"`
	Environment string    `json:"environment,omitempty"`

	// Artifact is the candidate being rolled out. CandidateB is the second
	// candidate for A/B testing and empty otherwise. Baseline is the
	// artifact the fleet serves before the rollout and the revert point.
	Artifact   string `json:"artifact"`
	CandidateB string `json:"candidate_b,omitempty"`
	Baseline   string `json:"baseline"`

	Targets  []target.ID    `json:"targets"`
	Strategy StrategyType   `json:"strategy"`
	Config   StrategyConfig `json:"config"`

	Status       Status `json:"status"`
	CurrentStage int    `json:"current_stage"`
	// FailureReason explains a Failed status: an apply error, a shutdown, or
	// an incomplete rollback.
	FailureReason string `json:"failure_reason,omitempty"`

	BaselineMetrics *metric.Snapshot `json:"baseline_metrics,omitempty"`
	LatestMetrics   *metric.Snapshot `json:"latest_metrics,omitempty"`

	// Initial holds the acknowledged pre-deployment assignment of every
	// target, captured at Start. Rollback restores these exact values.
	Initial map[target.ID]target.Assignment `json:"initial,omitempty"`

	Rollbacks []RollbackRecord `json:"rollbacks,omitempty"`

	Initiator   string    `json:"initiator,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy. Stores and API handlers work on clones so
// the state machine's copy is never shared outside its goroutine.
func (d *Deployment) Clone() *Deployment {
	if d == nil {
		return nil
	}
	c := *d
	c.Targets = append([]target.ID(nil), d.Targets...)
	if d.Initial != nil {
		c.Initial = make(map[target.ID]target.Assignment, len(d.Initial))
		for id, a := range d.Initial {
			c.Initial[id] = a
		}
	}
	if d.Rollbacks != nil {
		c.Rollbacks = make([]RollbackRecord, len(d.Rollbacks))
		for i, r := range d.Rollbacks {
			r.Outcomes = append([]RevertOutcome(nil), r.Outcomes...)
			c.Rollbacks[i] = r
		}
	}
	if d.BaselineMetrics != nil {
		m := *d.BaselineMetrics
		c.BaselineMetrics = &m
	}
	if d.LatestMetrics != nil {
		m := *d.LatestMetrics
		c.LatestMetrics = &m
	}
	if d.Config.Stages != nil {
		c.Config.Stages = append([]int(nil), d.Config.Stages...)
	}
	return &c
}

// RollbackTrigger classifies what initiated a rollback.
type RollbackTrigger string

const (
	TriggerManual    RollbackTrigger = "manual"
	TriggerAutomatic RollbackTrigger = "automatic"
	TriggerTimeout   RollbackTrigger = "timeout"
)

// RevertOutcome records the result of reverting one target.
type RevertOutcome struct {
	Target   target.ID     `json:"target"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RollbackRecord captures one rollback pass. It is created once per
// rollback, appended to the deployment history, and never mutated after
// creation. Complete is false when any target revert failed, in which case
// the deployment ends Failed rather than RolledBack.
type RollbackRecord struct {
	ID               uuid.UUID       `json:"id"`
	Trigger          RollbackTrigger `json:"trigger"`
	Reason           string          `json:"reason"`
	StageIndex       int             `json:"stage_index"`
	PreviousArtifact string          `json:"previous_artifact"`
	Outcomes         []RevertOutcome `json:"outcomes"`
	StartedAt        time.Time       `json:"started_at"`
	Duration         time.Duration   `json:"duration"`
	Complete         bool            `json:"complete"`
}

// FailedTargets returns the targets whose revert did not succeed.
func (r RollbackRecord) FailedTargets() []target.ID {
	var out []target.ID
	for _, o := range r.Outcomes {
		if !o.OK {
			out = append(out, o.Target)
		}
	}
	return out
}

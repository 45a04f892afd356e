// Package engine runs deployments: it executes stage plans against the
// fleet, watches metrics during soaks, and drives the deployment lifecycle
// state machine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/scrawlsbenches/rollout/applier"
	"github.com/scrawlsbenches/rollout/config"
	"github.com/scrawlsbenches/rollout/deploy"
	"github.com/scrawlsbenches/rollout/history"
	"github.com/scrawlsbenches/rollout/metric"
	"github.com/scrawlsbenches/rollout/observability"
	"github.com/scrawlsbenches/rollout/rollback"
	"github.com/scrawlsbenches/rollout/target"
)

// Deps are the collaborators a machine needs. The orchestrator builds one
// Deps value and shares it across all machines.
type Deps struct {
	Targets    *target.Set
	Applier    applier.TargetApplier
	Metrics    metric.Source
	Comparator *metric.Comparator
	Weights    metric.ScoreWeights
	Rollback   *rollback.Controller
	Store      history.Store
	Collector  *observability.Collector
	Gate       ApprovalGate
	Logger     *slog.Logger
}

type cmdKind int

const (
	cmdPromote cmdKind = iota
	cmdRollback
)

// command is the mailbox message for operator actions. Commands are
// handled one at a time by the run goroutine, so concurrent callers
// serialize: the second caller blocks until the first command's effect is
// applied, then observes the resulting state.
type command struct {
	kind    cmdKind
	toStage int // cmdPromote: target stage index, or -1 for "next"
	trigger deploy.RollbackTrigger
	reason  string
	reply   chan error
}

// Machine owns one deployment for its lifetime. The embedded deployment
// record is mutated only by the run goroutine; external reads go through
// Status, which returns a clone.
type Machine struct {
	deps   Deps
	cfg    config.EngineConfig
	stages []deploy.Stage
	owner  string
	winner string // resolved A/B winner artifact

	lifecycle *fsm.FSM
	cmds      chan command
	done      chan struct{}
	cancel    context.CancelFunc

	// retryMu serializes rollback retries after the run goroutine is gone.
	retryMu sync.Mutex

	mu  sync.Mutex
	dep *deploy.Deployment
}

func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		string(deploy.StatusPending),
		fsm.Events{
			{Name: "start", Src: []string{string(deploy.StatusPending)}, Dst: string(deploy.StatusInProgress)},
			{Name: "pause", Src: []string{string(deploy.StatusInProgress)}, Dst: string(deploy.StatusPaused)},
			{Name: "resume", Src: []string{string(deploy.StatusPaused)}, Dst: string(deploy.StatusInProgress)},
			{Name: "complete", Src: []string{string(deploy.StatusInProgress)}, Dst: string(deploy.StatusCompleted)},
			{Name: "fail", Src: []string{string(deploy.StatusInProgress), string(deploy.StatusPaused)}, Dst: string(deploy.StatusFailed)},
			{Name: "rollback", Src: []string{string(deploy.StatusInProgress), string(deploy.StatusPaused), string(deploy.StatusFailed)}, Dst: string(deploy.StatusRolledBack)},
		},
		fsm.Callbacks{},
	)
}

// NewMachine wraps a pending deployment and its stage plan.
func NewMachine(dep *deploy.Deployment, stages []deploy.Stage, cfg config.EngineConfig, deps Deps) *Machine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gate == nil {
		deps.Gate = AllowAll{}
	}
	if deps.Collector == nil {
		deps.Collector = observability.NewCollector("rollout")
	}
	return &Machine{
		deps:      deps,
		cfg:       cfg,
		stages:    stages,
		owner:     "deployment:" + dep.ID.String(),
		lifecycle: newLifecycle(),
		cmds:      make(chan command),
		done:      make(chan struct{}),
		dep:       dep,
	}
}

// Status returns a copy of the deployment record.
func (m *Machine) Status() *deploy.Deployment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dep.Clone()
}

// Done is closed when the deployment reaches a terminal status.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Start validates preconditions, captures the pre-deployment state, and
// launches the run goroutine. Nothing on any target is mutated until every
// precondition has passed.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.dep.Status != deploy.StatusPending {
		status := m.dep.Status
		m.mu.Unlock()
		return fmt.Errorf("deployment is %s: %w", status, deploy.ErrAlreadyStarted)
	}
	m.mu.Unlock()

	if m.cfg.RequireApproval {
		if err := m.deps.Gate.Check(ctx, m.Status()); err != nil {
			return err
		}
	}

	if err := m.deps.Targets.Claim(m.owner, m.dep.Targets); err != nil {
		return err
	}

	baseline, err := m.deps.Metrics.Snapshot(ctx, metric.Query{
		Targets:  m.dep.Targets,
		Window:   m.cfg.MetricsWindow,
		Scope:    metric.ScopeBaseline,
		Artifact: m.dep.Baseline,
	})
	if err != nil {
		if !m.deps.Comparator.Thresholds().FailOpen {
			m.deps.Targets.Release(m.owner)
			return fmt.Errorf("baseline snapshot: %w", err)
		}
		m.deps.Logger.Warn("baseline snapshot unavailable, failing open", "deployment", m.dep.ID, "error", err)
		baseline = nil
	}

	initial, err := m.deps.Targets.Assignments(m.dep.Targets)
	if err != nil {
		m.deps.Targets.Release(m.owner)
		return err
	}

	m.mu.Lock()
	m.dep.BaselineMetrics = baseline
	m.dep.Initial = initial
	m.dep.StartedAt = time.Now()
	m.mu.Unlock()

	if err := m.transition(ctx, "start"); err != nil {
		m.deps.Targets.Release(m.owner)
		return err
	}
	m.deps.Collector.ActiveDeployments.Inc()

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(runCtx)
	return nil
}

// Promote advances past the current soak or confirmation point. With
// toStage -1 the deployment moves to the next stage; a non-negative
// toStage jumps forward to that stage, skipping the ones between.
func (m *Machine) Promote(ctx context.Context, toStage int) error {
	return m.send(ctx, command{kind: cmdPromote, toStage: toStage})
}

// Rollback reverts the deployment to its pre-deployment state. It is
// valid while the deployment runs and, as the manual retry path, after it
// has Failed.
func (m *Machine) Rollback(ctx context.Context, reason string) error {
	return m.send(ctx, command{kind: cmdRollback, trigger: deploy.TriggerManual, reason: reason})
}

// Stop cancels the run goroutine. It is used during server shutdown.
func (m *Machine) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Machine) send(ctx context.Context, cmd command) error {
	m.mu.Lock()
	status := m.dep.Status
	m.mu.Unlock()
	// Before Start there is no run goroutine serving the mailbox.
	if status == deploy.StatusPending {
		return fmt.Errorf("deployment is %s: %w", status, deploy.ErrStateConflict)
	}

	cmd.reply = make(chan error, 1)
	select {
	case m.cmds <- cmd:
	case <-m.done:
		if cmd.kind == cmdRollback {
			return m.rollbackFailed(ctx, cmd.trigger, cmd.reason)
		}
		return m.terminalErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rollbackFailed is the manual retry path: a Failed deployment can still
// be rolled back once the operator has fixed whatever broke the first
// attempt. The run goroutine is gone by then, so the rollback executes on
// the caller's goroutine.
func (m *Machine) rollbackFailed(ctx context.Context, trigger deploy.RollbackTrigger, reason string) error {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()

	m.mu.Lock()
	status := m.dep.Status
	m.mu.Unlock()
	if status != deploy.StatusFailed {
		return fmt.Errorf("deployment is %s: %w", status, deploy.ErrStateConflict)
	}
	m.finishRollback(ctx, trigger, reason)
	return nil
}

func (m *Machine) terminalErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Errorf("deployment is %s: %w", m.dep.Status, deploy.ErrStateConflict)
}

// transition fires a lifecycle event, syncs the record, and persists it.
func (m *Machine) transition(ctx context.Context, event string) error {
	prev := deploy.Status(m.lifecycle.Current())
	if err := m.lifecycle.Event(ctx, event); err != nil {
		return fmt.Errorf("%s: %w", event, deploy.ErrStateConflict)
	}

	m.mu.Lock()
	m.dep.Status = deploy.Status(m.lifecycle.Current())
	terminal := m.dep.Status.Terminal()
	if terminal {
		m.dep.CompletedAt = time.Now()
	}
	snapshot := m.dep.Clone()
	m.mu.Unlock()

	if err := m.deps.Store.Update(context.WithoutCancel(ctx), snapshot); err != nil {
		m.deps.Logger.Error("persist deployment", "deployment", snapshot.ID, "error", err)
	}
	// A retried rollback moves Failed to RolledBack; the deployment was
	// already counted and the gauge already decremented at that point.
	if terminal && !prev.Terminal() {
		m.deps.Collector.RecordDeployment(string(snapshot.Strategy), string(snapshot.Status))
		m.deps.Collector.ActiveDeployments.Dec()
	}
	return nil
}

func (m *Machine) persist(ctx context.Context) {
	m.mu.Lock()
	snapshot := m.dep.Clone()
	m.mu.Unlock()
	if err := m.deps.Store.Update(context.WithoutCancel(ctx), snapshot); err != nil {
		m.deps.Logger.Error("persist deployment", "deployment", snapshot.ID, "error", err)
	}
}

// run drives the deployment through its stage plan. It is the only
// goroutine that mutates the deployment record after Start.
func (m *Machine) run(ctx context.Context) {
	defer close(m.done)
	defer m.deps.Targets.Release(m.owner)

	// A promote that jumps out of a soak already carries the operator's
	// intent, so the landing stage skips its confirmation pause.
	confirmed := false
	for i := 0; i < len(m.stages); i++ {
		st := m.stages[i]
		m.setStage(i)

		if st.ManualConfirm && !confirmed {
			next, ok := m.awaitConfirmation(ctx, i)
			if !ok {
				return
			}
			if next > i {
				i = next
				st = m.stages[i]
				m.setStage(i)
			}
		}
		confirmed = false

		if st.PromotesWinner() {
			if !m.resolveWinner(ctx) {
				return
			}
		}

		stageStart := time.Now()
		if err := m.executeStage(ctx, st); err != nil {
			m.deps.Logger.Error("stage apply failed",
				"deployment", m.dep.ID, "stage", i, "error", err)
			m.finishRollback(ctx, deploy.TriggerAutomatic, "apply-failure: "+err.Error())
			return
		}

		out := m.soak(ctx, st, i)
		m.deps.Collector.RecordStageDuration(string(m.dep.Strategy), time.Since(stageStart))
		switch out.kind {
		case soakOK:
		case soakJump:
			i = out.toStage - 1 // loop increment lands on toStage
			confirmed = true
		case soakDegraded:
			m.finishRollback(ctx, deploy.TriggerAutomatic, strings.Join(out.reasons, "; "))
			return
		case soakRollback:
			m.finishRollback(ctx, out.trigger, out.reason)
			out.reply <- nil
			return
		case soakShutdown:
			m.fail(ctx, "engine shutdown")
			return
		}
	}

	m.deps.Logger.Info("deployment completed", "deployment", m.dep.ID, "strategy", m.dep.Strategy)
	if err := m.transition(ctx, "complete"); err != nil {
		m.deps.Logger.Error("complete transition", "deployment", m.dep.ID, "error", err)
	}
}

func (m *Machine) setStage(i int) {
	m.mu.Lock()
	m.dep.CurrentStage = i
	m.mu.Unlock()
	m.deps.Logger.Info("entering stage",
		"deployment", m.dep.ID,
		"stage", i,
		"of", len(m.stages),
		"candidate_weight", m.stages[i].CandidateWeight(),
	)
}

// awaitConfirmation parks the deployment in Paused until an operator
// promotes or rolls back. The returned stage index is where execution
// resumes; ok is false when the deployment went terminal.
func (m *Machine) awaitConfirmation(ctx context.Context, stage int) (int, bool) {
	if err := m.transition(ctx, "pause"); err != nil {
		return 0, false
	}
	m.deps.Logger.Info("awaiting confirmation", "deployment", m.dep.ID, "stage", stage)

	for {
		select {
		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdPromote:
				next := stage
				if cmd.toStage >= 0 {
					if cmd.toStage < stage {
						cmd.reply <- fmt.Errorf("stage %d already passed: %w", cmd.toStage, deploy.ErrStateConflict)
						continue
					}
					if cmd.toStage >= len(m.stages) {
						cmd.reply <- fmt.Errorf("%w: stage %d out of range", deploy.ErrValidation, cmd.toStage)
						continue
					}
					next = cmd.toStage
				}
				if err := m.transition(ctx, "resume"); err != nil {
					cmd.reply <- err
					return 0, false
				}
				cmd.reply <- nil
				return next, true
			case cmdRollback:
				m.finishRollback(ctx, cmd.trigger, cmd.reason)
				cmd.reply <- nil
				return 0, false
			}
		case <-ctx.Done():
			m.fail(ctx, "engine shutdown")
			return 0, false
		}
	}
}

// executeStage fans out the stage's apply groups across targets with
// bounded parallelism. Groups run in order; a failure in one group stops
// the stage. Acknowledged applies are recorded in the target set so a
// later rollback knows what to revert.
func (m *Machine) executeStage(ctx context.Context, st deploy.Stage) error {
	for _, ap := range st.Applies {
		artifact := m.resolveArtifact(ap.Artifact)
		targets, err := m.deps.Targets.Select(ap.Targets)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.cfg.ApplyConcurrency)
		for _, t := range targets {
			g.Go(func() error {
				callCtx, cancel := context.WithTimeout(gctx, m.cfg.ApplyTimeout)
				defer cancel()
				if err := m.deps.Applier.Apply(callCtx, t, artifact, ap.Weight); err != nil {
					m.deps.Collector.RecordApply(false)
					return fmt.Errorf("apply %s@%d to %s: %w", artifact, ap.Weight, t.ID, err)
				}
				m.deps.Collector.RecordApply(true)
				return m.deps.Targets.SetAssignment(t.ID, artifact, ap.Weight)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) resolveArtifact(k deploy.ArtifactKind) string {
	switch k {
	case deploy.ArtifactCandidateB:
		return m.dep.CandidateB
	case deploy.ArtifactBaseline:
		return m.dep.Baseline
	case deploy.ArtifactWinner:
		return m.winner
	default:
		return m.dep.Artifact
	}
}

type soakKind int

const (
	soakOK soakKind = iota
	soakJump
	soakDegraded
	soakRollback
	soakShutdown
)

type soakOutcome struct {
	kind    soakKind
	toStage int
	trigger deploy.RollbackTrigger
	reason  string
	reasons []string
	// reply is answered only after the command's effect is fully applied,
	// so a Rollback caller returns with the deployment already terminal.
	reply chan error
}

// soak holds the stage open for its monitoring period. Metrics are
// re-checked every poll interval so degradation rolls back early instead
// of waiting out the soak. Operator commands are served from here, which
// is what serializes them against stage execution.
func (m *Machine) soak(ctx context.Context, st deploy.Stage, stage int) soakOutcome {
	if st.Soak <= 0 {
		return soakOutcome{kind: soakOK}
	}

	timer := time.NewTimer(st.Soak)
	defer timer.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	monitored := len(st.Checks) > 0

	for {
		select {
		case <-timer.C:
			if monitored {
				if v := m.check(ctx); v.Degraded {
					return soakOutcome{kind: soakDegraded, reasons: v.Reasons}
				}
			}
			return soakOutcome{kind: soakOK}

		case <-ticker.C:
			if !monitored {
				continue
			}
			if v := m.check(ctx); v.Degraded {
				return soakOutcome{kind: soakDegraded, reasons: v.Reasons}
			}

		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdPromote:
				to := stage + 1
				if cmd.toStage >= 0 {
					if cmd.toStage < stage {
						cmd.reply <- fmt.Errorf("stage %d already passed: %w", cmd.toStage, deploy.ErrStateConflict)
						continue
					}
					if cmd.toStage >= len(m.stages) {
						cmd.reply <- fmt.Errorf("%w: stage %d out of range", deploy.ErrValidation, cmd.toStage)
						continue
					}
					// Promoting to the current stage just ends its soak.
					if cmd.toStage > stage {
						to = cmd.toStage
					}
				}
				cmd.reply <- nil
				return soakOutcome{kind: soakJump, toStage: to}
			case cmdRollback:
				return soakOutcome{kind: soakRollback, trigger: cmd.trigger, reason: cmd.reason, reply: cmd.reply}
			}

		case <-ctx.Done():
			return soakOutcome{kind: soakShutdown}
		}
	}
}

// check pulls a candidate snapshot and compares it against the baseline
// captured at Start.
func (m *Machine) check(ctx context.Context) metric.Verdict {
	snap, err := m.deps.Metrics.Snapshot(ctx, metric.Query{
		Targets:  m.dep.Targets,
		Window:   m.cfg.MetricsWindow,
		Scope:    metric.ScopeCandidate,
		Artifact: m.dep.Artifact,
	})
	if err != nil {
		m.deps.Logger.Warn("candidate snapshot failed", "deployment", m.dep.ID, "error", err)
		snap = nil
	}

	m.mu.Lock()
	m.dep.LatestMetrics = snap
	baseline := m.dep.BaselineMetrics
	m.mu.Unlock()

	return m.deps.Comparator.Compare(baseline, snap)
}

// resolveWinner scores the two A/B candidates and records the winner for
// the promote stage. A tie keeps the baseline: the split is rolled back
// and the deployment ends RolledBack.
func (m *Machine) resolveWinner(ctx context.Context) bool {
	snapA, errA := m.deps.Metrics.Snapshot(ctx, metric.Query{
		Targets:  m.dep.Targets,
		Window:   m.dep.Config.Duration,
		Scope:    metric.ScopeCandidate,
		Artifact: m.dep.Artifact,
	})
	if errA != nil {
		m.deps.Logger.Warn("candidate A snapshot failed", "deployment", m.dep.ID, "error", errA)
		snapA = nil
	}
	snapB, errB := m.deps.Metrics.Snapshot(ctx, metric.Query{
		Targets:  m.dep.Targets,
		Window:   m.dep.Config.Duration,
		Scope:    metric.ScopeCandidate,
		Artifact: m.dep.CandidateB,
	})
	if errB != nil {
		m.deps.Logger.Warn("candidate B snapshot failed", "deployment", m.dep.ID, "error", errB)
		snapB = nil
	}

	switch m.deps.Comparator.Score(snapA, snapB, m.deps.Weights) {
	case metric.WinnerA:
		m.winner = m.dep.Artifact
	case metric.WinnerB:
		m.winner = m.dep.CandidateB
	default:
		m.finishRollback(ctx, deploy.TriggerAutomatic, "ab-scoring tie: keeping baseline")
		return false
	}
	m.deps.Logger.Info("ab winner resolved", "deployment", m.dep.ID, "winner", m.winner)
	return true
}

// finishRollback reverts the fleet and moves the deployment to its final
// status: RolledBack when every revert succeeded, Failed otherwise.
func (m *Machine) finishRollback(ctx context.Context, trigger deploy.RollbackTrigger, reason string) {
	// Shutdown must not interrupt reverts mid-flight.
	rbCtx := context.WithoutCancel(ctx)

	m.mu.Lock()
	dep := m.dep
	m.mu.Unlock()

	rec := m.deps.Rollback.Rollback(rbCtx, dep, m.deps.Targets, trigger, reason)
	m.deps.Collector.RecordRollback(string(trigger))

	m.mu.Lock()
	m.dep.Rollbacks = append(m.dep.Rollbacks, *rec)
	m.mu.Unlock()

	if rec.Complete {
		if err := m.transition(rbCtx, "rollback"); err != nil {
			m.deps.Logger.Error("rollback transition", "deployment", m.dep.ID, "error", err)
		}
		return
	}
	m.fail(rbCtx, fmt.Sprintf("rollback incomplete: %d target(s) not reverted", len(rec.FailedTargets())))
}

func (m *Machine) fail(ctx context.Context, reason string) {
	m.mu.Lock()
	m.dep.FailureReason = reason
	alreadyFailed := m.dep.Status == deploy.StatusFailed
	m.mu.Unlock()
	// A retried rollback that fails again stays Failed; only the reason
	// needs persisting.
	if alreadyFailed {
		m.persist(ctx)
		return
	}
	if err := m.transition(context.WithoutCancel(ctx), "fail"); err != nil {
		m.deps.Logger.Error("fail transition", "deployment", m.dep.ID, "error", err)
	}
}

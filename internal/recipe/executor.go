package recipe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/albaraazain/ald-control-plane/internal/config"
	"github.com/albaraazain/ald-control-plane/internal/metrics"
	"github.com/albaraazain/ald-control-plane/internal/paramcache"
	"github.com/albaraazain/ald-control-plane/internal/plc"
	"github.com/albaraazain/ald-control-plane/internal/store"
)

// Executor is T2: it polls for recipe commands, claims one at a time, and
// walks the claimed recipe's expanded plan to completion, cancellation, or
// failure.
type Executor struct {
	machineID string
	adapter   plc.Adapter
	cache     *paramcache.Cache
	db        *store.DB
	cat       *store.CatalogDB
	log       *logrus.Entry
	cfg       config.ExecutorConfig
}

// New builds an Executor.
func New(machineID string, adapter plc.Adapter, cache *paramcache.Cache, db *store.DB, cat *store.CatalogDB, log *logrus.Entry, cfg config.ExecutorConfig) *Executor {
	return &Executor{machineID: machineID, adapter: adapter, cache: cache, db: db, cat: cat, log: log, cfg: cfg}
}

// Reconcile marks any execution left running by a prior crashed instance
// as failed, per this implementation's chosen crash-recovery policy.
func (e *Executor) Reconcile(ctx context.Context) {
	n, err := e.db.ReconcileStaleExecutions(ctx, e.machineID)
	if err != nil {
		e.log.WithError(err).Warn("executor: startup reconciliation failed")
		return
	}
	if n > 0 {
		e.log.WithField("count", n).Warn("executor: reconciled stale running executions as failed on startup")
	}
}

// Run polls for pending recipe commands until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Executor) pollOnce(ctx context.Context) {
	cmd, err := e.db.ClaimNextRecipeCommand(ctx, e.machineID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return
		}
		e.log.WithError(err).Warn("executor: claim poll failed")
		return
	}
	e.handleCommand(ctx, cmd)
}

func (e *Executor) handleCommand(ctx context.Context, cmd store.RecipeCommand) {
	log := e.log.WithField("command_id", cmd.ID)

	switch cmd.Action {
	case "start_recipe", "start":
		if cmd.RecipeID == nil {
			log.Warn("executor: start command missing recipe_id, skipping")
			return
		}
		e.runRecipe(ctx, *cmd.RecipeID, log)
	case "stop_recipe", "stop":
		e.stopActiveRecipe(ctx, log)
	default:
		log.WithField("action", cmd.Action).Warn("executor: unrecognized command action, skipping")
	}
}

func (e *Executor) stopActiveRecipe(ctx context.Context, log *logrus.Entry) {
	exec, err := e.db.ActiveExecutionForMachine(ctx, e.machineID)
	if err != nil {
		log.WithError(err).Info("executor: stop requested but no active execution found")
		return
	}
	if err := e.db.RequestStopExecution(ctx, exec.ID); err != nil {
		log.WithError(err).Warn("executor: failed to request stop")
	}
}

func (e *Executor) runRecipe(ctx context.Context, recipeID string, log *logrus.Entry) {
	recipeRow, steps, err := e.cat.LoadRecipeTree(recipeID)
	if err != nil {
		log.WithError(err).Error("executor: failed to load recipe tree")
		return
	}

	plan := Expand(e.cat, steps)
	log = log.WithField("recipe_id", recipeID).WithField("total_steps", plan.TotalSteps)

	execID := uuid.New().String()
	if _, err := e.db.CreateExecution(ctx, execID, e.machineID, recipeRow.ID); err != nil {
		log.WithError(err).Error("executor: failed to create process execution")
		return
	}
	log = log.WithField("execution_id", execID)

	if err := e.db.EnterRunning(ctx, e.log, e.machineID, execID); err != nil {
		log.WithError(err).Error("executor: failed to enter running machine state")
	}
	if err := e.db.StartExecution(ctx, execID); err != nil {
		log.WithError(err).Error("executor: failed to start execution")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.watchForStop(runCtx, execID, cancel, log)

	outcome := e.walk(runCtx, execID, plan, log)

	switch outcome.Kind {
	case OutcomeOK:
		_ = e.db.CompleteExecution(ctx, execID)
		metrics.RecipeStepsExecuted.WithLabelValues(e.machineID, "recipe", "completed").Inc()
	case OutcomeCancelled:
		_ = e.db.CancelExecution(ctx, execID)
		metrics.RecipeStepsExecuted.WithLabelValues(e.machineID, "recipe", "cancelled").Inc()
	case OutcomeFailed:
		_ = e.db.FailExecution(ctx, execID, outcome.Message)
		if err := e.db.EnterFailureMode(ctx, e.log, e.machineID); err != nil {
			log.WithError(err).Error("executor: failed to enter failure-mode machine state")
		}
		metrics.RecipeStepsExecuted.WithLabelValues(e.machineID, "recipe", "failed").Inc()
		log.WithField("error", outcome.Message).Error("executor: recipe run failed")
	}

	if outcome.Kind != OutcomeFailed {
		if err := e.db.EnterIdle(ctx, e.log, e.machineID); err != nil {
			log.WithError(err).Error("executor: failed to return machine to idle")
		}
	}
}

// watchForStop polls ShouldStop on a short interval and cancels runCtx the
// moment a pause or stop is requested, since the walker only checks
// cancellation between steps.
func (e *Executor) watchForStop(ctx context.Context, execID string, cancel context.CancelFunc, log *logrus.Entry) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stop, err := e.db.ShouldStop(ctx, execID)
			if err != nil {
				continue
			}
			if stop {
				cancel()
				return
			}
		}
	}
}

// walk executes plan's operations in order, updating progress state and
// the audit trail between each, yielding a structured Outcome rather than
// propagating an exception.
func (e *Executor) walk(ctx context.Context, execID string, plan Plan, log *logrus.Entry) Outcome {
	for i, op := range plan.Ops {
		seq := i + 1

		select {
		case <-ctx.Done():
			_ = e.db.AppendAudit(ctx, store.AuditEntry{
				ExecutionID: execID, StepID: op.StepID, StepSequence: seq, LoopIteration: op.LoopIteration,
				EventType: "run_cancelled", Detail: "execution cancelled before step", OccurredAt: time.Now(),
			})
			return cancelled()
		default:
		}

		_ = e.db.UpdateCurrentStep(ctx, execID, op.StepID)
		_ = e.db.UpsertExecutionState(ctx, stepState(execID, seq, plan.TotalSteps, op))
		_ = e.db.AppendAudit(ctx, store.AuditEntry{
			ExecutionID: execID, StepID: op.StepID, StepSequence: seq, LoopIteration: op.LoopIteration,
			EventType: "step_started", Detail: string(op.Kind), OccurredAt: time.Now(),
		})

		// auditSub records one PLC-affecting sub-operation nested inside
		// this step (valve open/close, parameter write), stamping it with
		// this step's identity before it reaches AppendAudit.
		auditSub := func(entry store.AuditEntry) {
			entry.ExecutionID = execID
			entry.StepID = op.StepID
			entry.StepSequence = seq
			entry.LoopIteration = op.LoopIteration
			if entry.OccurredAt.IsZero() {
				entry.OccurredAt = time.Now()
			}
			_ = e.db.AppendAudit(ctx, entry)
		}

		result := runOp(ctx, e.adapter, e.cache, op, auditSub)

		switch result.Kind {
		case OutcomeOK:
			metrics.RecipeStepsExecuted.WithLabelValues(e.machineID, string(op.Kind), "ok").Inc()
			_ = e.db.AppendAudit(ctx, store.AuditEntry{
				ExecutionID: execID, StepID: op.StepID, StepSequence: seq, LoopIteration: op.LoopIteration,
				EventType: "step_completed", Detail: string(op.Kind), OccurredAt: time.Now(),
			})
		case OutcomeCancelled:
			metrics.RecipeStepsExecuted.WithLabelValues(e.machineID, string(op.Kind), "cancelled").Inc()
			_ = e.db.AppendAudit(ctx, store.AuditEntry{
				ExecutionID: execID, StepID: op.StepID, StepSequence: seq, LoopIteration: op.LoopIteration,
				EventType: "step_cancelled", Detail: string(op.Kind), OccurredAt: time.Now(),
			})
			return cancelled()
		case OutcomeFailed:
			metrics.RecipeStepsExecuted.WithLabelValues(e.machineID, string(op.Kind), "failed").Inc()
			_ = e.db.AppendAudit(ctx, store.AuditEntry{
				ExecutionID: execID, StepID: op.StepID, StepSequence: seq, LoopIteration: op.LoopIteration,
				EventType: "step_failed", Detail: result.Message, OccurredAt: time.Now(),
			})
			return failed(result.Message)
		}

		log.WithField("step", seq).WithField("of", plan.TotalSteps).Debug("executor: step completed")
	}
	return ok()
}

// stepState builds the progress snapshot upserted into
// process_execution_state for the step about to run, populating whichever
// of the type-specific columns apply to op.Kind and leaving the rest nil.
func stepState(execID string, overallStep, totalSteps int, op Op) store.ProcessExecutionState {
	s := store.ProcessExecutionState{
		ExecutionID:          execID,
		CurrentOverallStep:   overallStep,
		TotalOverallSteps:    totalSteps,
		CurrentStepID:        op.StepID,
		CurrentStepName:      op.Name,
		CurrentStepType:      string(op.Kind),
		CurrentLoopIteration: op.LoopIteration,
		CurrentLoopCount:     op.LoopCount,
	}
	switch op.Kind {
	case StepValve:
		v, d := op.ValveNumber, op.DurationMs
		s.CurrentValveNumber = &v
		s.CurrentDurationMs = &d
	case StepPurge:
		d := op.DurationMs
		s.CurrentPurgeDurationMs = &d
	case StepParameter:
		pid, tv := op.ParameterID, op.TargetValue
		s.CurrentParameterID = &pid
		s.CurrentParameterValue = &tv
	}
	return s
}

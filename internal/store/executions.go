package store

import (
	"context"
	"fmt"
	"time"
)

// Execution phase constants for process_executions, covering the recipe
// run lifecycle T2 drives. A terminal phase is Completed, Cancelled, or
// Failed; anything else should be treated as live by a crash-recovery scan.
const (
	PhasePending   = "pending"
	PhaseRunning   = "running"
	PhasePausing   = "pausing"
	PhasePaused    = "paused"
	PhaseResuming  = "resuming"
	PhaseStopping  = "stopping"
	PhaseCompleted = "completed"
	PhaseCancelled = "cancelled"
	PhaseFailed    = "failed"
)

// ProcessExecution is a row of process_executions: one run of a recipe.
type ProcessExecution struct {
	ID          string
	MachineID   string
	RecipeID    string
	Phase       string
	CurrentStep *string
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateExecution inserts a new process_executions row in PhasePending.
func (db *DB) CreateExecution(ctx context.Context, id, machineID, recipeID string) (ProcessExecution, error) {
	var e ProcessExecution
	row := db.QueryRow(ctx, `
		INSERT INTO process_executions (id, machine_id, recipe_id, phase)
		VALUES ($1, $2, $3, $4)
		RETURNING id, machine_id, recipe_id, phase, current_step, error, started_at, completed_at, created_at, updated_at
	`, id, machineID, recipeID, PhasePending)
	err := row.Scan(&e.ID, &e.MachineID, &e.RecipeID, &e.Phase, &e.CurrentStep, &e.Error, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return ProcessExecution{}, fmt.Errorf("store: create execution: %w", err)
	}
	return e, nil
}

// StartExecution transitions pending -> running and stamps started_at.
func (db *DB) StartExecution(ctx context.Context, id string) error {
	n, err := db.ExecRows(ctx, `
		UPDATE process_executions
		SET phase = $2, started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = $1
	`, id, PhaseRunning)
	if err != nil {
		return fmt.Errorf("store: start execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: execution not found: %s", id)
	}
	return nil
}

// UpdateCurrentStep records which step the executor is currently on, for
// observability.
func (db *DB) UpdateCurrentStep(ctx context.Context, id, stepID string) error {
	return db.Exec(ctx, `
		UPDATE process_executions SET current_step = $2, updated_at = now() WHERE id = $1
	`, id, stepID)
}

// RequestPauseExecution moves a running execution to pausing; the executor
// observes this on its own schedule via ShouldStop.
func (db *DB) RequestPauseExecution(ctx context.Context, id string) error {
	n, err := db.ExecRows(ctx, `
		UPDATE process_executions SET phase = $2, updated_at = now()
		WHERE id = $1 AND phase = $3
	`, id, PhasePausing, PhaseRunning)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: execution not running: %s", id)
	}
	return nil
}

// CompletePauseExecution marks the execution actually paused once the
// executor has reached a safe point.
func (db *DB) CompletePauseExecution(ctx context.Context, id string) error {
	return db.Exec(ctx, `UPDATE process_executions SET phase = $2, updated_at = now() WHERE id = $1`, id, PhasePaused)
}

// RequestStopExecution moves a running or paused execution to stopping.
func (db *DB) RequestStopExecution(ctx context.Context, id string) error {
	n, err := db.ExecRows(ctx, `
		UPDATE process_executions SET phase = $2, updated_at = now()
		WHERE id = $1 AND phase IN ($3, $4, $5)
	`, id, PhaseStopping, PhaseRunning, PhasePaused, PhasePausing)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: execution not active: %s", id)
	}
	return nil
}

// CompleteExecution marks the execution successfully finished.
func (db *DB) CompleteExecution(ctx context.Context, id string) error {
	return db.Exec(ctx, `
		UPDATE process_executions SET phase = $2, completed_at = now(), updated_at = now() WHERE id = $1
	`, id, PhaseCompleted)
}

// CancelExecution marks the execution as cooperatively cancelled.
func (db *DB) CancelExecution(ctx context.Context, id string) error {
	return db.Exec(ctx, `
		UPDATE process_executions SET phase = $2, completed_at = now(), updated_at = now() WHERE id = $1
	`, id, PhaseCancelled)
}

// FailExecution marks the execution failed with the given error text.
func (db *DB) FailExecution(ctx context.Context, id, errText string) error {
	return db.Exec(ctx, `
		UPDATE process_executions SET phase = $2, error = $3, completed_at = now(), updated_at = now() WHERE id = $1
	`, id, PhaseFailed, errText)
}

// ShouldStop reports whether the execution has been asked to pause or stop,
// polled every 500 ms by the executor's watchForStop, which then cancels
// the running walk.
func (db *DB) ShouldStop(ctx context.Context, id string) (bool, error) {
	var phase string
	err := db.QueryRow(ctx, `SELECT phase FROM process_executions WHERE id = $1`, id).Scan(&phase)
	if err != nil {
		return false, err
	}
	return phase == PhasePausing || phase == PhaseStopping, nil
}

// GetExecution fetches a process_executions row by id.
func (db *DB) GetExecution(ctx context.Context, id string) (ProcessExecution, error) {
	var e ProcessExecution
	row := db.QueryRow(ctx, `
		SELECT id, machine_id, recipe_id, phase, current_step, error, started_at, completed_at, created_at, updated_at
		FROM process_executions WHERE id = $1
	`, id)
	err := row.Scan(&e.ID, &e.MachineID, &e.RecipeID, &e.Phase, &e.CurrentStep, &e.Error, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return ProcessExecution{}, err
	}
	return e, nil
}

// ActiveExecutionForMachine returns the one non-terminal execution for a
// machine, if any, used by T2's stop command to find the run to stop.
func (db *DB) ActiveExecutionForMachine(ctx context.Context, machineID string) (*ProcessExecution, error) {
	var e ProcessExecution
	row := db.QueryRow(ctx, `
		SELECT id, machine_id, recipe_id, phase, current_step, error, started_at, completed_at, created_at, updated_at
		FROM process_executions
		WHERE machine_id = $1 AND phase NOT IN ($2, $3, $4)
		ORDER BY created_at DESC LIMIT 1
	`, machineID, PhaseCompleted, PhaseCancelled, PhaseFailed)
	err := row.Scan(&e.ID, &e.MachineID, &e.RecipeID, &e.Phase, &e.CurrentStep, &e.Error, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

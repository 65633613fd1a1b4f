package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Machine states mirrored in machine_state.current_state.
const (
	MachineIdle    = "idle"
	MachineRunning = "running"
	MachineError   = "error"
)

// EnterRunning updates machines.current_process_id and machine_state
// together as two sequential statements rather than one atomic stored
// procedure. If the second statement fails after the first succeeds,
// EnterRunning compensates by retrying the machine_state update once; if that
// also fails, the inconsistency is logged at error level rather than
// panicking, matching this implementation's documented compensation
// policy for split-state writes.
func (db *DB) EnterRunning(ctx context.Context, log *logrus.Entry, machineID, processID string) error {
	if err := db.Exec(ctx, `UPDATE machines SET current_process_id = $2, status = $3 WHERE id = $1`, machineID, processID, MachineRunning); err != nil {
		return fmt.Errorf("store: set machine running: %w", err)
	}

	update := func() error {
		return db.Exec(ctx, `
			UPDATE machine_state SET current_state = $2, process_id = $3, state_since = now(), is_failure_mode = false
			WHERE machine_id = $1
		`, machineID, MachineRunning, processID)
	}

	if err := update(); err != nil {
		if retryErr := update(); retryErr != nil {
			log.WithError(retryErr).WithField("machine_id", machineID).
				Error("machine_state update failed after compensation retry; machines and machine_state are now inconsistent")
			return fmt.Errorf("store: set machine_state running: %w", retryErr)
		}
	}
	return nil
}

// EnterIdle reverses EnterRunning at the end of a run, with the same
// sequential-update-plus-compensation policy.
func (db *DB) EnterIdle(ctx context.Context, log *logrus.Entry, machineID string) error {
	if err := db.Exec(ctx, `UPDATE machines SET current_process_id = NULL, status = $2 WHERE id = $1`, machineID, MachineIdle); err != nil {
		return fmt.Errorf("store: set machine idle: %w", err)
	}

	update := func() error {
		return db.Exec(ctx, `
			UPDATE machine_state SET current_state = $2, process_id = NULL, state_since = now()
			WHERE machine_id = $1
		`, machineID, MachineIdle)
	}

	if err := update(); err != nil {
		if retryErr := update(); retryErr != nil {
			log.WithError(retryErr).WithField("machine_id", machineID).
				Error("machine_state update failed after compensation retry; machines and machine_state are now inconsistent")
			return fmt.Errorf("store: set machine_state idle: %w", retryErr)
		}
	}
	return nil
}

// EnterFailureMode marks the machine as being in an error state without
// clearing current_process_id, so the failed run remains visible.
func (db *DB) EnterFailureMode(ctx context.Context, log *logrus.Entry, machineID string) error {
	if err := db.Exec(ctx, `UPDATE machines SET status = $2 WHERE id = $1`, machineID, MachineError); err != nil {
		return fmt.Errorf("store: set machine error: %w", err)
	}

	update := func() error {
		return db.Exec(ctx, `
			UPDATE machine_state SET current_state = $2, state_since = now(), is_failure_mode = true
			WHERE machine_id = $1
		`, machineID, MachineError)
	}

	if err := update(); err != nil {
		if retryErr := update(); retryErr != nil {
			log.WithError(retryErr).WithField("machine_id", machineID).
				Error("machine_state update failed after compensation retry; machines and machine_state are now inconsistent")
			return fmt.Errorf("store: set machine_state error: %w", retryErr)
		}
	}
	return nil
}

// ReconcileStaleExecutions marks any non-terminal process_executions row
// for machineID as failed at startup. This implementation does not attempt
// to resume a mid-run execution across a process restart.
func (db *DB) ReconcileStaleExecutions(ctx context.Context, machineID string) (int64, error) {
	return db.ExecRows(ctx, `
		UPDATE process_executions
		SET phase = $2, error = 'terminal reconciled as failed on startup', completed_at = now(), updated_at = now()
		WHERE machine_id = $1 AND phase NOT IN ($3, $4, $5)
	`, machineID, PhaseFailed, PhaseCompleted, PhaseCancelled, PhaseFailed)
}

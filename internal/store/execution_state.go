package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ProcessExecutionState is the single, continuously overwritten row of
// process_execution_state for one execution: a point-in-time snapshot of
// exactly where the run currently stands. It exists alongside, not instead
// of, the append-only recipe_execution_audit log — the audit table answers
// "what happened", this table answers "where are we right now" without
// replaying history, which is what a crash-recovery scan or a live
// dashboard actually needs.
type ProcessExecutionState struct {
	ExecutionID            string
	CurrentOverallStep     int
	TotalOverallSteps      int
	CurrentStepID          string
	CurrentStepName        string
	CurrentStepType        string
	CurrentLoopIteration   int
	CurrentLoopCount       int
	CurrentValveNumber     *int
	CurrentDurationMs      *int
	CurrentPurgeDurationMs *int
	CurrentParameterID     *string
	CurrentParameterValue  *float64
	ProgressJSON           []byte
	UpdatedAt              time.Time
}

// UpsertExecutionState overwrites the execution's progress snapshot. Unlike
// AppendAudit this is a single row per execution, keyed by execution_id, so
// a reader only ever sees the most recent state rather than a history of
// them.
func (db *DB) UpsertExecutionState(ctx context.Context, s ProcessExecutionState) error {
	progress, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal progress snapshot: %w", err)
	}
	return db.Exec(ctx, `
		INSERT INTO process_execution_state (
			execution_id, current_overall_step, total_overall_steps,
			current_step_id, current_step_name, current_step_type,
			current_loop_iteration, current_loop_count,
			current_valve_number, current_duration_ms, current_purge_duration_ms,
			current_parameter_id, current_parameter_value,
			progress_json, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (execution_id) DO UPDATE SET
			current_overall_step = EXCLUDED.current_overall_step,
			total_overall_steps = EXCLUDED.total_overall_steps,
			current_step_id = EXCLUDED.current_step_id,
			current_step_name = EXCLUDED.current_step_name,
			current_step_type = EXCLUDED.current_step_type,
			current_loop_iteration = EXCLUDED.current_loop_iteration,
			current_loop_count = EXCLUDED.current_loop_count,
			current_valve_number = EXCLUDED.current_valve_number,
			current_duration_ms = EXCLUDED.current_duration_ms,
			current_purge_duration_ms = EXCLUDED.current_purge_duration_ms,
			current_parameter_id = EXCLUDED.current_parameter_id,
			current_parameter_value = EXCLUDED.current_parameter_value,
			progress_json = EXCLUDED.progress_json,
			updated_at = now()
	`, s.ExecutionID, s.CurrentOverallStep, s.TotalOverallSteps,
		s.CurrentStepID, s.CurrentStepName, s.CurrentStepType,
		s.CurrentLoopIteration, s.CurrentLoopCount,
		s.CurrentValveNumber, s.CurrentDurationMs, s.CurrentPurgeDurationMs,
		s.CurrentParameterID, s.CurrentParameterValue,
		progress)
}

// GetExecutionState fetches the current progress snapshot for an execution.
func (db *DB) GetExecutionState(ctx context.Context, executionID string) (ProcessExecutionState, error) {
	var s ProcessExecutionState
	row := db.QueryRow(ctx, `
		SELECT execution_id, current_overall_step, total_overall_steps,
			current_step_id, current_step_name, current_step_type,
			current_loop_iteration, current_loop_count,
			current_valve_number, current_duration_ms, current_purge_duration_ms,
			current_parameter_id, current_parameter_value,
			progress_json, updated_at
		FROM process_execution_state WHERE execution_id = $1
	`, executionID)
	err := row.Scan(&s.ExecutionID, &s.CurrentOverallStep, &s.TotalOverallSteps,
		&s.CurrentStepID, &s.CurrentStepName, &s.CurrentStepType,
		&s.CurrentLoopIteration, &s.CurrentLoopCount,
		&s.CurrentValveNumber, &s.CurrentDurationMs, &s.CurrentPurgeDurationMs,
		&s.CurrentParameterID, &s.CurrentParameterValue,
		&s.ProgressJSON, &s.UpdatedAt)
	if err != nil {
		return ProcessExecutionState{}, err
	}
	return s, nil
}

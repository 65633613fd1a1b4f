package store

import (
	"context"
	"time"
)

// AuditEntry is one append-only row of recipe_execution_audit. Two distinct
// kinds of event share the table: step lifecycle events (step_started,
// step_completed, step_failed, step_cancelled, run_cancelled), one per
// linearized step, and PLC-affecting sub-operation events (valve_open,
// valve_close, parameter_write), one per actual write to the device. The
// latter carry the verification/timing columns; the former leave them zero.
type AuditEntry struct {
	ExecutionID   string
	StepID        string
	StepSequence  int // position of this step in the linearized plan, 1-based
	LoopIteration int
	EventType     string
	Detail        string

	// PLC-affecting sub-operation columns; only populated for
	// valve_open/valve_close/parameter_write events.
	ParameterName        string
	TargetValue          *float64
	ActualValue          *float64 // verification read-back, nil if not read
	PLCWriteStartedAt    *time.Time
	PLCWriteEndedAt      *time.Time
	OperationCompletedAt *time.Time
	RetryCount           int
	FinalStatus          string // ok|failed|cancelled

	OccurredAt time.Time
}

// AppendAudit writes one audit row. Audit writes are fire-and-forget from
// the executor's perspective: it ignores the returned error and never
// aborts the run over it, since the audit trail is a record of the run, not a gate on it.
func (db *DB) AppendAudit(ctx context.Context, e AuditEntry) error {
	return db.Exec(ctx, `
		INSERT INTO recipe_execution_audit (
			execution_id, step_id, step_sequence, loop_iteration, event_type, detail,
			parameter_name, target_value, actual_value,
			plc_write_started_at, plc_write_ended_at, operation_completed_at,
			retry_count, final_status, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ExecutionID, e.StepID, e.StepSequence, e.LoopIteration, e.EventType, e.Detail,
		e.ParameterName, e.TargetValue, e.ActualValue,
		e.PLCWriteStartedAt, e.PLCWriteEndedAt, e.OperationCompletedAt,
		e.RetryCount, e.FinalStatus, e.OccurredAt)
}

//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const schemaDDL = `
CREATE TABLE component_parameters (
	id TEXT PRIMARY KEY,
	set_value DOUBLE PRECISION
);
CREATE TABLE parameter_readings (
	machine_id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	temp_zone_1 DOUBLE PRECISION,
	PRIMARY KEY (machine_id, timestamp)
);
CREATE TABLE recipe_commands (
	id TEXT PRIMARY KEY,
	machine_id TEXT,
	action TEXT NOT NULL,
	recipe_id TEXT,
	parameters JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	executed_at TIMESTAMPTZ
);
CREATE TABLE parameter_control_commands (
	id TEXT PRIMARY KEY,
	machine_id TEXT,
	parameter_id TEXT,
	parameter_name TEXT,
	raw_address INT,
	raw_data_type TEXT,
	target_value DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	executed_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	status TEXT,
	error_message TEXT,
	attempts INT
);
CREATE TABLE process_execution_state (
	execution_id TEXT PRIMARY KEY,
	current_overall_step INT,
	total_overall_steps INT,
	current_step_id TEXT,
	current_step_name TEXT,
	current_step_type TEXT,
	current_loop_iteration INT,
	current_loop_count INT,
	current_valve_number INT,
	current_duration_ms INT,
	current_purge_duration_ms INT,
	current_parameter_id TEXT,
	current_parameter_value DOUBLE PRECISION,
	progress_json JSONB,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE recipe_execution_audit (
	id BIGSERIAL PRIMARY KEY,
	execution_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	step_sequence INT,
	loop_iteration INT,
	event_type TEXT NOT NULL,
	detail TEXT,
	parameter_name TEXT,
	target_value DOUBLE PRECISION,
	actual_value DOUBLE PRECISION,
	plc_write_started_at TIMESTAMPTZ,
	plc_write_ended_at TIMESTAMPTZ,
	operation_completed_at TIMESTAMPTZ,
	retry_count INT,
	final_status TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);
`

// setupPostgresContainer starts a disposable Postgres instance and returns a
// connected DB with the control-plane schema loaded.
func setupPostgresContainer(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Exec(ctx, schemaDDL))
	return db
}

func TestUpsertReading_InsertsThenOverwritesOnConflict(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.UpsertReading(ctx, "m1", ts, map[string]float64{"temp_zone_1": 10.5}))
	require.NoError(t, db.UpsertReading(ctx, "m1", ts, map[string]float64{"temp_zone_1": 20.5}))

	row := db.QueryRow(ctx, `SELECT temp_zone_1 FROM parameter_readings WHERE machine_id = $1 AND timestamp = $2`, "m1", ts)
	var v float64
	require.NoError(t, row.Scan(&v))
	assert.Equal(t, 20.5, v)
}

func TestSetValuesAndUpdateSetValue_RoundTrip(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `INSERT INTO component_parameters (id, set_value) VALUES ('p1', 42.0), ('p2', NULL)`))

	values, err := db.SetValues(ctx, []string{"p1", "p2", "p-missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"p1": 42.0}, values)

	require.NoError(t, db.UpdateSetValue(ctx, "p1", 99.0))
	values, err = db.SetValues(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, 99.0, values["p1"])
}

func TestClaimNextRecipeCommand_OldestFirstAndSkipsClaimed(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `
		INSERT INTO recipe_commands (id, machine_id, action, created_at) VALUES
		('c1', 'm1', 'start', now() - interval '2 seconds'),
		('c2', 'm1', 'stop', now() - interval '1 second')
	`))

	cmd, err := db.ClaimNextRecipeCommand(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "c1", cmd.ID)

	cmd, err = db.ClaimNextRecipeCommand(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "c2", cmd.ID)

	_, err = db.ClaimNextRecipeCommand(ctx, "m1")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestClaimRecipeCommandByID_LosesRaceOnSecondClaim(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `INSERT INTO recipe_commands (id, machine_id, action) VALUES ('c1', 'm1', 'start')`))

	require.NoError(t, db.ClaimRecipeCommandByID(ctx, "c1"))
	err := db.ClaimRecipeCommandByID(ctx, "c1")
	assert.ErrorIs(t, err, ErrLostRace)
}

func TestClaimParameterControlCommand_LosesRaceWhenAlreadyExecuted(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `
		INSERT INTO parameter_control_commands (id, machine_id, target_value, parameter_id)
		VALUES ('pc1', 'm1', 123.4, 'p1')
	`))

	cmd, err := db.ClaimParameterControlCommand(ctx, "m1", "pc1")
	require.NoError(t, err)
	assert.Equal(t, 123.4, cmd.TargetValue)

	_, err = db.ClaimParameterControlCommand(ctx, "m1", "pc1")
	assert.ErrorIs(t, err, ErrLostRace)
}

func TestClaimParameterControlCommand_RejectsCommandAddressedToAnotherMachine(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `
		INSERT INTO parameter_control_commands (id, machine_id, target_value)
		VALUES ('pc1', 'm1', 1.0)
	`))

	_, err := db.ClaimParameterControlCommand(ctx, "m2", "pc1")
	assert.ErrorIs(t, err, ErrLostRace, "a claim scoped to the wrong machine must behave like a lost race, not succeed")

	cmd, err := db.ClaimParameterControlCommand(ctx, "m1", "pc1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cmd.TargetValue)
}

func TestClaimParameterControlCommand_GlobalCommandClaimableByAnyMachine(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `
		INSERT INTO parameter_control_commands (id, machine_id, target_value)
		VALUES ('pc1', NULL, 1.0)
	`))

	cmd, err := db.ClaimParameterControlCommand(ctx, "any-machine", "pc1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cmd.TargetValue)
}

func TestPendingParameterControlCommands_ExcludesClaimed(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `
		INSERT INTO parameter_control_commands (id, machine_id, target_value, created_at) VALUES
		('pc1', 'm1', 1.0, now() - interval '2 seconds'),
		('pc2', 'm1', 2.0, now() - interval '1 second')
	`))
	_, err := db.ClaimParameterControlCommand(ctx, "m1", "pc1")
	require.NoError(t, err)

	pending, err := db.PendingParameterControlCommands(ctx, "m1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pc2", pending[0].ID)
}

func TestFinalizeParameterControlCommand_RecordsOutcome(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `
		INSERT INTO parameter_control_commands (id, machine_id, target_value) VALUES ('pc1', 'm1', 1.0)
	`))
	require.NoError(t, db.FinalizeParameterControlCommand(ctx, "pc1", "failed", "write timed out", 3))

	row := db.QueryRow(ctx, `SELECT status, error_message, attempts FROM parameter_control_commands WHERE id = 'pc1'`)
	var status, errText string
	var attempts int
	require.NoError(t, row.Scan(&status, &errText, &attempts))
	assert.Equal(t, "failed", status)
	assert.Equal(t, "write timed out", errText)
	assert.Equal(t, 3, attempts)
}

func TestClaimNextRecipeCommand_GlobalCommandClaimableByAnyMachine(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, `
		INSERT INTO recipe_commands (id, machine_id, action) VALUES ('c1', NULL, 'start')
	`))

	cmd, err := db.ClaimNextRecipeCommand(ctx, "any-machine")
	require.NoError(t, err)
	assert.Equal(t, "c1", cmd.ID)
	assert.Nil(t, cmd.MachineID)
}

func TestUpsertExecutionState_InsertsThenOverwrites(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	valve := 3
	duration := 2000
	require.NoError(t, db.UpsertExecutionState(ctx, ProcessExecutionState{
		ExecutionID: "e1", CurrentOverallStep: 1, TotalOverallSteps: 5,
		CurrentStepID: "s1", CurrentStepName: "open valve 3", CurrentStepType: "valve",
		CurrentValveNumber: &valve, CurrentDurationMs: &duration,
	}))

	paramID := "temp-sp"
	paramValue := 180.0
	require.NoError(t, db.UpsertExecutionState(ctx, ProcessExecutionState{
		ExecutionID: "e1", CurrentOverallStep: 3, TotalOverallSteps: 5,
		CurrentStepID: "s3", CurrentStepName: "set temp", CurrentStepType: "parameter",
		CurrentParameterID: &paramID, CurrentParameterValue: &paramValue,
	}))

	got, err := db.GetExecutionState(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentOverallStep, "a second upsert overwrites rather than adding a row")
	assert.Equal(t, "s3", got.CurrentStepID)
	require.NotNil(t, got.CurrentParameterID)
	assert.Equal(t, "temp-sp", *got.CurrentParameterID)
	assert.Nil(t, got.CurrentValveNumber, "fields absent from the latest snapshot must not leak from the prior one")
}

func TestAppendAudit_RecordsPLCSubOperationColumns(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	target := 180.0
	actual := 179.8
	start := time.Now().Add(-time.Millisecond)
	end := time.Now()
	require.NoError(t, db.AppendAudit(ctx, AuditEntry{
		ExecutionID: "e1", StepID: "s1", StepSequence: 1, LoopIteration: 0,
		EventType: "parameter_write", ParameterName: "temp-sp",
		TargetValue: &target, ActualValue: &actual,
		PLCWriteStartedAt: &start, PLCWriteEndedAt: &end, OperationCompletedAt: &end,
		FinalStatus: "ok", OccurredAt: end,
	}))

	row := db.QueryRow(ctx, `
		SELECT event_type, parameter_name, target_value, actual_value, final_status
		FROM recipe_execution_audit WHERE execution_id = 'e1'
	`)
	var eventType, paramName, finalStatus string
	var targetVal, actualVal float64
	require.NoError(t, row.Scan(&eventType, &paramName, &targetVal, &actualVal, &finalStatus))
	assert.Equal(t, "parameter_write", eventType)
	assert.Equal(t, "temp-sp", paramName)
	assert.Equal(t, 180.0, targetVal)
	assert.Equal(t, 179.8, actualVal)
	assert.Equal(t, "ok", finalStatus)
}

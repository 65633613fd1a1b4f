package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrLostRace is returned when a claim's UPDATE affected zero rows, meaning
// another terminal (or a concurrent instance of the same one) claimed the
// row first.
var ErrLostRace = errors.New("store: lost claim race")

// RecipeCommand is a row of recipe_commands: a request for T2 to start,
// pause, resume, or stop a process execution. MachineID is nullable: a
// null machine_id is a global command any terminal may claim.
type RecipeCommand struct {
	ID         string
	MachineID  *string
	Action     string // start|pause|resume|stop
	RecipeID   *string
	Parameters []byte // raw JSON, interpreted per Action
	CreatedAt  time.Time
}

// ClaimNextRecipeCommand atomically claims the oldest unclaimed command that
// is either global (null machine_id) or addressed to machineID, returning
// pgx.ErrNoRows when the queue is empty.
func (db *DB) ClaimNextRecipeCommand(ctx context.Context, machineID string) (RecipeCommand, error) {
	var cmd RecipeCommand
	row := db.QueryRow(ctx, `
		UPDATE recipe_commands
		SET executed_at = now()
		WHERE id = (
			SELECT id FROM recipe_commands
			WHERE (machine_id = $1 OR machine_id IS NULL) AND executed_at IS NULL
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, machine_id, action, recipe_id, parameters, created_at
	`, machineID)

	if err := row.Scan(&cmd.ID, &cmd.MachineID, &cmd.Action, &cmd.RecipeID, &cmd.Parameters, &cmd.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RecipeCommand{}, pgx.ErrNoRows
		}
		return RecipeCommand{}, err
	}
	return cmd, nil
}

// ClaimRecipeCommandByID claims a specific command by id; the executor
// itself claims through ClaimNextRecipeCommand's poll. Returns ErrLostRace if
// another claimant got there first.
func (db *DB) ClaimRecipeCommandByID(ctx context.Context, id string) error {
	n, err := db.ExecRows(ctx, `
		UPDATE recipe_commands SET executed_at = now()
		WHERE id = $1 AND executed_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLostRace
	}
	return nil
}

// ParameterControlCommand is a row of parameter_control_commands: a request
// for T3 to write one value to the device. MachineID is nullable: a null
// machine_id is a global command any terminal may claim.
type ParameterControlCommand struct {
	ID            string
	MachineID     *string
	ParameterID   *string
	ParameterName *string
	RawAddress    *int
	RawDataType   *string
	TargetValue   float64
	CreatedAt     time.Time
}

// ClaimParameterControlCommand atomically claims command id for processing,
// scoped to machineID (null machine_id rows are global and claimable by
// any terminal). This filter is what stops a push-path notification for
// one machine's command from being claimed and executed by another
// machine's writer the instant it fires on the shared notify channel.
// Returns ErrLostRace if it was already claimed, or if id belongs to a
// different machine (the claim simply matches zero rows either way).
func (db *DB) ClaimParameterControlCommand(ctx context.Context, machineID, id string) (ParameterControlCommand, error) {
	var cmd ParameterControlCommand
	row := db.QueryRow(ctx, `
		UPDATE parameter_control_commands
		SET executed_at = now()
		WHERE id = $1 AND (machine_id = $2 OR machine_id IS NULL) AND executed_at IS NULL
		RETURNING id, machine_id, parameter_id, parameter_name, raw_address, raw_data_type, target_value, created_at
	`, id, machineID)

	err := row.Scan(&cmd.ID, &cmd.MachineID, &cmd.ParameterID, &cmd.ParameterName,
		&cmd.RawAddress, &cmd.RawDataType, &cmd.TargetValue, &cmd.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ParameterControlCommand{}, ErrLostRace
		}
		return ParameterControlCommand{}, err
	}
	return cmd, nil
}

// PendingParameterControlCommands lists unclaimed commands that are either
// global or addressed to machineID, oldest first, used by T3's pull-path
// poll alongside the push-path listener.
func (db *DB) PendingParameterControlCommands(ctx context.Context, machineID string, limit int) ([]ParameterControlCommand, error) {
	rows, err := db.Query(ctx, `
		SELECT id, machine_id, parameter_id, parameter_name, raw_address, raw_data_type, target_value, created_at
		FROM parameter_control_commands
		WHERE (machine_id = $1 OR machine_id IS NULL) AND executed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2
	`, machineID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParameterControlCommand
	for rows.Next() {
		var cmd ParameterControlCommand
		if err := rows.Scan(&cmd.ID, &cmd.MachineID, &cmd.ParameterID, &cmd.ParameterName,
			&cmd.RawAddress, &cmd.RawDataType, &cmd.TargetValue, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

// FinalizeParameterControlCommand records the terminal outcome of a claimed
// write, including the final attempt count and any error text.
func (db *DB) FinalizeParameterControlCommand(ctx context.Context, id, status, errText string, attempts int) error {
	return db.Exec(ctx, `
		UPDATE parameter_control_commands
		SET status = $2, error_message = $3, attempts = $4, completed_at = now()
		WHERE id = $1
	`, id, status, errText, attempts)
}

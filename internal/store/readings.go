package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UpsertReading writes one second's worth of sampled parameter values into
// the wide-row time-series table, keyed by (machine_id, timestamp). values
// is keyed by the stable wide-row column name from the parameter catalog.
// A duplicate timestamp overwrites rather than conflicts, matching the
// "last writer for this second wins" semantics T1's tick loop relies on.
func (db *DB) UpsertReading(ctx context.Context, machineID string, ts time.Time, values map[string]float64) error {
	if len(values) == 0 {
		return db.Exec(ctx, `
			INSERT INTO parameter_readings (machine_id, timestamp)
			VALUES ($1, $2)
			ON CONFLICT (machine_id, timestamp) DO NOTHING
		`, machineID, ts)
	}

	cols := make([]string, 0, len(values)+2)
	placeholders := make([]string, 0, len(values)+2)
	updates := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values)+2)

	cols = append(cols, "machine_id", "timestamp")
	args = append(args, machineID, ts)
	placeholders = append(placeholders, "$1", "$2")

	i := 3
	for col, v := range values {
		cols = append(cols, quoteIdent(col))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(col), quoteIdent(col)))
		args = append(args, v)
		i++
	}

	sql := fmt.Sprintf(`
		INSERT INTO parameter_readings (%s)
		VALUES (%s)
		ON CONFLICT (machine_id, timestamp) DO UPDATE SET %s
	`, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	return db.Exec(ctx, sql, args...)
}

// quoteIdent double-quotes a column name; callers only ever pass column
// names sourced from the parameter catalog, never user input, but the
// table is wide and dynamic so this isn't a bound placeholder.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

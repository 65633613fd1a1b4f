package store

import "context"

// SetValues returns the database's currently recorded set_value for every
// writable parameter id in ids, used once per tick by T1's reconciliation
// pass rather than one query per parameter.
func (db *DB) SetValues(ctx context.Context, ids []string) (map[string]float64, error) {
	rows, err := db.Query(ctx, `
		SELECT id, set_value FROM component_parameters WHERE id = ANY($1) AND set_value IS NOT NULL
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64, len(ids))
	for rows.Next() {
		var id string
		var v float64
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}

// UpdateSetValue overwrites the recorded set_value for a parameter, used
// when the PLC readback disagrees with the database — the PLC always wins.
func (db *DB) UpdateSetValue(ctx context.Context, id string, value float64) error {
	return db.Exec(ctx, `UPDATE component_parameters SET set_value = $2 WHERE id = $1`, id, value)
}

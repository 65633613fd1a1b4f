// Package deadletter is a local, crash-durable fallback queue for wide-row
// inserts that T1 could not deliver to the database, so a database outage
// degrades the sampler's durability rather than silently dropping seconds
// of history.
package deadletter

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "readings"

// Entry is one undelivered wide-row insert, replayed in timestamp order
// once the database becomes reachable again.
type Entry struct {
	MachineID string             `json:"machine_id"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Queue wraps a bbolt file dedicated to one terminal's dead-letter entries.
type Queue struct {
	db *bolt.DB
}

// Open opens (creating if needed) dir/deadletter.db and ensures its bucket
// exists.
func Open(dir string) (*Queue, error) {
	path := filepath.Join(dir, "deadletter.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("deadletter: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("deadletter: create bucket: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close releases the underlying file.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Put enqueues one reading, keyed by its RFC3339Nano timestamp so replay
// naturally proceeds in chronological order via bbolt's sorted keys.
func (q *Queue) Put(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry: %w", err)
	}
	key := []byte(e.Timestamp.UTC().Format(time.RFC3339Nano))
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(key, data)
	})
}

// Drain calls fn for every queued entry in key (chronological) order,
// deleting each entry after fn returns nil. The whole drain is one bbolt
// transaction: if fn fails, every delete of this drain is rolled back, so
// the entries already handed to fn stay queued along with the remainder.
func (q *Queue) Drain(fn func(Entry) error) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				// Skip a corrupt entry rather than block the whole drain.
				_ = b.Delete(k)
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len reports how many entries are currently queued.
func (q *Queue) Len() (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

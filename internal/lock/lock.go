// Package lock provides a filesystem-backed exclusive lock that keeps a
// second instance of the same terminal from ever running against the same
// machine concurrently, using bbolt's own file-locking Open call rather
// than a hand-rolled flock wrapper.
package lock

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrAlreadyRunning is returned when bbolt's Open times out acquiring the
// OS-level file lock, meaning another process already holds it.
var ErrAlreadyRunning = fmt.Errorf("lock: another instance already holds this lock")

// Lock is a single-instance guard backed by one bbolt file per terminal
// role, so the sampler, executor, and writer for the same machine can run
// concurrently while two samplers for the same machine cannot.
type Lock struct {
	db   *bolt.DB
	path string
}

// Acquire opens (creating if needed) dir/<role>.lock and blocks for up to
// timeout waiting for the exclusive OS lock bbolt takes on Open. A timeout
// expiring returns ErrAlreadyRunning.
func Acquire(dir, role string, timeout time.Duration) (*Lock, error) {
	path := filepath.Join(dir, role+".lock")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}
	return &Lock{db: db, path: path}, nil
}

// Release closes the underlying bbolt file, freeing the OS lock so a
// future Acquire for the same role succeeds.
func (l *Lock) Release() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

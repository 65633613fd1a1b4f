// Package retry provides a fixed-schedule retry helper (Do) and a tuned
// cenkalti/backoff exponential policy (Exponential). No terminal in this
// module calls either: the sampler, the parameter writer and the PLC
// reconnect loop each run their own retry loop.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Schedule is a fixed sequence of wait durations tried in order; once
// exhausted, the final duration repeats for any further attempt beyond
// len(Schedule).
type Schedule []time.Duration

// Do runs fn until it returns a nil error, waiting sched[i] (or sched's
// last entry once i exceeds its length) between attempts, up to maxAttempts
// total calls to fn. Returns the last error if every attempt fails.
func Do(ctx context.Context, sched Schedule, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		wait := sched.at(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

func (s Schedule) at(i int) time.Duration {
	if len(s) == 0 {
		return time.Second
	}
	if i < len(s) {
		return s[i]
	}
	return s[len(s)-1]
}

// Exponential builds a backoff.ExponentialBackOff tuned with the given
// initial interval and max elapsed time, for a retry whose wait keeps
// growing rather than following a fixed schedule.
func Exponential(initial, maxElapsed time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxElapsedTime = maxElapsed
	return b
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsOnFirstAttemptWithoutWaiting(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(), Schedule{time.Hour}, 3, func(attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDo_RetriesUntilSuccessWithinBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Schedule{time.Millisecond, time.Millisecond}, 3, func(attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsLastErrorWhenBudgetExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Schedule{time.Millisecond}, 3, func(attempt int) error {
		calls++
		return fmt.Errorf("attempt %d failed", attempt)
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(2 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, Schedule{time.Hour}, 5, func(attempt int) error {
		calls++
		return errors.New("keep failing")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSchedule_AtFallsBackToLastEntryBeyondLength(t *testing.T) {
	s := Schedule{5 * time.Second, 10 * time.Second}
	assert.Equal(t, 5*time.Second, s.at(0))
	assert.Equal(t, 10*time.Second, s.at(1))
	assert.Equal(t, 10*time.Second, s.at(5))
}

func TestSchedule_AtOnEmptyScheduleDefaultsToOneSecond(t *testing.T) {
	var s Schedule
	assert.Equal(t, time.Second, s.at(0))
}

func TestExponential_AppliesConfiguredBounds(t *testing.T) {
	b := Exponential(time.Second, time.Minute)
	assert.Equal(t, time.Second, b.InitialInterval)
	assert.Equal(t, time.Minute, b.MaxElapsedTime)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := time.Second

	assert.Equal(t, time.Second, Backoff(base, 0, 0))
	assert.Equal(t, 2*time.Second, Backoff(base, 1, 0))
	assert.Equal(t, 4*time.Second, Backoff(base, 2, 0))
	assert.Equal(t, 8*time.Second, Backoff(base, 3, 0))

	// capped
	assert.Equal(t, 5*time.Second, Backoff(base, 10, 5*time.Second))
	assert.Equal(t, time.Duration(0), Backoff(0, 3, 0))
	assert.Equal(t, base, Backoff(base, -1, 0))
}

func TestDo_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithJitter(0))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RespectsRetryIf(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithRetryIf(func(err error) bool {
		return !errors.Is(err, fatal)
	}))

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentError(t *testing.T) {
	cause := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	}, WithMaxAttempts(5))

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	}, WithMaxAttempts(4), WithInitialDelay(time.Millisecond), WithJitter(0),
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		}))

	assert.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, delays)
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

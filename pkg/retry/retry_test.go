package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crmflow/pkg/errors"
)

func TestScheduleDelay(t *testing.T) {
	s := NewSchedule(100*time.Millisecond, 30*time.Second)

	assert.Equal(t, 100*time.Millisecond, s.Delay(0))
	assert.Equal(t, 200*time.Millisecond, s.Delay(1))
	assert.Equal(t, 800*time.Millisecond, s.Delay(3))
	assert.Equal(t, 30*time.Second, s.Delay(20))
}

func TestScheduleDue(t *testing.T) {
	s := NewSchedule(100*time.Millisecond, time.Second)

	assert.False(t, s.Due(1, 150*time.Millisecond))
	assert.True(t, s.Due(1, 200*time.Millisecond))
	assert.True(t, s.Due(10, time.Second))
}

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	var retried []int
	err := RetryWithCallback(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		retried = append(retried, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return errors.New("still down")
	})

	assert.EqualError(t, err, "still down")
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return apperrors.ErrValidation.WithDetail("field", "uri")
	})

	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, Policy{MaxAttempts: 5, InitialInterval: time.Hour}, func() error {
		return errors.New("down")
	})
	assert.Error(t, err)
}

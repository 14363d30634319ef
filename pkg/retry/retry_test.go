package retry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/vellora/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), retry.Policy{Op: "test", Attempts: 3}, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	var retried []int
	_, err := retry.Do(context.Background(), retry.Policy{
		Op:       "generate",
		Attempts: 5,
		OnRetry:  func(err error, attempt int) { retried = append(retried, attempt) },
	}, func(ctx context.Context) (string, error) {
		calls++
		return "", errTransient
	})

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, "generate", exhausted.Op)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []int{2, 3, 4, 5}, retried)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := retry.Run(context.Background(), retry.Policy{
		Attempts:  5,
		Retryable: retry.On(errTransient),
	}, func(ctx context.Context) error {
		calls++
		return fatal
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExceptPredicate(t *testing.T) {
	fatal := errors.New("fatal")
	pred := retry.Except(fatal)
	assert.False(t, pred(fatal))
	assert.True(t, pred(errTransient))
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Run(ctx, retry.Policy{Attempts: 5}, func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

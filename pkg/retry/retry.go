// Package retry runs operations with a bounded number of attempts and reports
// exhaustion with a typed error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Policy configures a retry loop.
type Policy struct {
	// Op names the operation in errors and logs.
	Op string
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Delay is the initial wait between attempts. Zero retries immediately.
	Delay time.Duration
	// Retryable decides whether an error deserves another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool
	// OnRetry is called before each new attempt.
	OnRetry func(err error, attempt int)
}

// On returns a Retryable predicate matching any of the given sentinel errors.
func On(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// Except returns a Retryable predicate matching every error but the given ones.
func Except(targets ...error) func(error) bool {
	match := On(targets...)
	return func(err error) bool {
		return !match(err)
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the policy
// runs out of attempts. Non-retryable errors are returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		tries     int
		permanent bool
	)
	operation := func() (T, error) {
		tries++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || (p.Retryable != nil && !p.Retryable(err)) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Delay > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Delay
		b = eb
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, _ time.Duration) {
			p.OnRetry(err, tries+1)
		}))
	}

	v, err := backoff.Retry(ctx, operation, opts...)
	if err == nil {
		return v, nil
	}
	if permanent {
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			return v, pe.Err
		}
		return v, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return v, ctxErr
	}
	return v, &ExhaustedError{Op: p.Op, Attempts: tries, Last: err}
}

// Run is Do for operations without a result value.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Package resilience provides retry with backoff and per-dependency circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryOptions configures Retry.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
	Jitter      bool

	// RetryCondition reports whether err is worth another attempt.
	// A nil condition retries every error.
	RetryCondition func(err error) bool
	// OnRetry runs before the sleep that precedes attempt+1.
	OnRetry func(attempt int, err error)
	// OnMaxAttemptsReached runs once when attempts are exhausted.
	OnMaxAttemptsReached func(err error)

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// RetryError is returned when every attempt failed.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Delay returns the wait before attempt+1, without jitter.
func (o RetryOptions) Delay(attempt int) time.Duration {
	d := o.BaseDelay
	if o.Exponential && attempt > 1 {
		d = o.BaseDelay << (attempt - 1)
		if d <= 0 {
			d = o.MaxDelay
		}
	}
	if o.MaxDelay > 0 && d > o.MaxDelay {
		d = o.MaxDelay
	}
	return d
}

func (o RetryOptions) jittered(d time.Duration) time.Duration {
	if !o.Jitter || d <= 0 {
		return d
	}
	factor := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}

// Retry runs op until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. The context bounds both op and the sleeps between attempts.
func Retry[T any](ctx context.Context, opts RetryOptions, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if opts.RetryCondition != nil && !opts.RetryCondition(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
		if err := sleep(ctx, opts.jittered(opts.Delay(attempt))); err != nil {
			return zero, &RetryError{Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}

	if opts.OnMaxAttemptsReached != nil {
		opts.OnMaxAttemptsReached(lastErr)
	}
	return zero, &RetryError{Attempts: opts.MaxAttempts, Err: lastErr}
}

// Do is Retry for operations without a result.
func Do(ctx context.Context, opts RetryOptions, op func(ctx context.Context) error) error {
	_, err := Retry(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

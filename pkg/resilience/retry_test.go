package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
}

// failing returns an op that fails n times before returning "ok".
func failing(n int, calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= n {
			return "", errBoom
		}
		return fmt.Sprintf("ok-%d", *calls), nil
	}
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	var calls, retries int
	opts := RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(int, error) { retries++ },
		sleep:       noSleep(nil),
	}

	v, err := Retry(context.Background(), opts, failing(2, &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok-3", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetryExhausted(t *testing.T) {
	var calls int
	var exhausted error
	opts := RetryOptions{
		MaxAttempts:          2,
		BaseDelay:            time.Millisecond,
		OnMaxAttemptsReached: func(err error) { exhausted = err },
		sleep:                noSleep(nil),
	}

	_, err := Retry(context.Background(), opts, failing(2, &calls))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, exhausted, errBoom)
	assert.Equal(t, 2, calls)

	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Attempts)
}

func TestRetryNonRetryableReturnsImmediately(t *testing.T) {
	var calls int
	opts := RetryOptions{
		MaxAttempts:    5,
		RetryCondition: func(error) bool { return false },
		sleep:          noSleep(nil),
	}

	_, err := Retry(context.Background(), opts, failing(10, &calls))
	assert.Equal(t, errBoom, err)
	assert.Equal(t, 1, calls)
}

func TestRetryDelays(t *testing.T) {
	var delays []time.Duration
	var calls int
	opts := RetryOptions{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
		Exponential: true,
		sleep:       noSleep(&delays),
	}

	_, _ = Retry(context.Background(), opts, failing(10, &calls))
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, delays)

	opts.Exponential = false
	assert.Equal(t, 100*time.Millisecond, opts.Delay(4))
}

func TestRetryJitterBounds(t *testing.T) {
	opts := RetryOptions{Jitter: true}
	for range 100 {
		d := opts.jittered(time.Second)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	opts := RetryOptions{MaxAttempts: 5, BaseDelay: time.Hour}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Retry(ctx, opts, failing(10, &calls))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryOptions
		err    error
		want   bool
	}{
		{"network missing status", NetworkPolicy(), errBoom, true},
		{"network 408", NetworkPolicy(), statusErr(408), true},
		{"network 400", NetworkPolicy(), statusErr(400), false},
		{"ai 503", AIServicePolicy(), statusErr(503), true},
		{"ai 500", AIServicePolicy(), statusErr(500), false},
		{"ai timeout", AIServicePolicy(), context.DeadlineExceeded, true},
		{"api 500", APIPolicy(), statusErr(500), true},
		{"api 404", APIPolicy(), statusErr(404), false},
		{"db 502", DatabasePolicy(), statusErr(502), true},
		{"db 500", DatabasePolicy(), statusErr(500), false},
		{"canceled", NetworkPolicy(), context.Canceled, false},
		{"open circuit", NetworkPolicy(), &CircuitOpenError{Name: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.RetryCondition(tt.err))
		})
	}

	assert.Equal(t, 5, NetworkPolicy().MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, NetworkPolicy().BaseDelay)
	assert.Equal(t, 3, AIServicePolicy().MaxAttempts)
	assert.Equal(t, 2*time.Second, AIServicePolicy().BaseDelay)
	assert.Equal(t, time.Second, APIPolicy().BaseDelay)
	assert.Equal(t, 2, DatabasePolicy().MaxAttempts)
}

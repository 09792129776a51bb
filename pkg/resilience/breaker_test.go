package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	b := NewCircuitBreaker("provider:openai", BreakerOptions{
		FailureThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
	}, nil)

	fail := func() error { return errBoom }
	ok := func() error { return nil }

	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(fail), errBoom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(func() error { invoked = true; return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked, "operation must not run while open")
	var coe *CircuitOpenError
	require.True(t, errors.As(err, &coe))
	assert.Equal(t, "provider:openai", coe.Name)

	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Execute(ok))
		assert.Equal(t, StateHalfOpen, b.State())
	}
	require.NoError(t, b.Execute(ok))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Metrics().FailureCount)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker("embedding", BreakerOptions{
		FailureThreshold: 2,
		ResetTimeout:     30 * time.Millisecond,
	}, nil)
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())

	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	m := b.Metrics()
	assert.Equal(t, StateOpen, m.State)
	assert.Equal(t, 0, m.SuccessCount)
	assert.False(t, m.LastFailureTime.IsZero())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	b := NewCircuitBreaker("api", BreakerOptions{FailureThreshold: 2, ResetTimeout: time.Minute}, nil)
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, StateClosed, b.State(), "failures must be consecutive to trip")
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	errBadRequest := errors.New("bad request")
	b := NewCircuitBreaker("api", BreakerOptions{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, errBadRequest) },
	}, nil)
	assert.ErrorIs(t, b.Execute(func() error { return errBadRequest }), errBadRequest)
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreakerReset(t *testing.T) {
	var transitions []string
	b := NewCircuitBreaker("db", BreakerOptions{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		OnStateChange:    func(_, from, to string) { transitions = append(transitions, from+">"+to) },
	}, nil)
	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	m := b.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Equal(t, 0, m.FailureCount)
	assert.True(t, m.LastFailureTime.IsZero())
	assert.Equal(t, []string{"CLOSED>OPEN", "OPEN>CLOSED"}, transitions)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(BreakerOptions{FailureThreshold: 1}, nil)
	a := r.Get("b")
	assert.Same(t, a, r.Get("b"))
	r.Get("a")

	_, ok := r.Lookup("missing")
	assert.False(t, ok)

	m := r.Metrics()
	require.Len(t, m, 2)
	assert.Equal(t, "a", m[0].Name)
	assert.Equal(t, "b", m[1].Name)
}

func TestDependencyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"transport", errors.New("connection refused"), true},
		{"bad request", statusErr(400), false},
		{"payload too large", statusErr(413), false},
		{"request timeout", statusErr(408), true},
		{"rate limited", statusErr(429), true},
		{"server error", statusErr(503), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DependencyFailure(tt.err))
		})
	}
}

func TestRegistryGetWith(t *testing.T) {
	r := NewRegistry(BreakerOptions{FailureThreshold: 1, ResetTimeout: time.Minute}, nil)
	b := r.GetWith("dep", DependencyFailure)
	assert.Same(t, b, r.Get("dep"))

	for i := 0; i < 3; i++ {
		assert.Equal(t, statusErr(400), b.Execute(func() error { return statusErr(400) }))
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Execute(func() error { return statusErr(500) })
	assert.Equal(t, StateOpen, b.State())
}

package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is matched by every rejection from an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned without invoking the operation while a breaker is open.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// State names as reported by Metrics.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// BreakerOptions configures a CircuitBreaker.
type BreakerOptions struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before a trial call.
	ResetTimeout time.Duration
	// HalfOpenSuccess consecutive trial successes close the breaker.
	HalfOpenSuccess int
	// IsFailure decides whether an error counts against the dependency.
	// A nil IsFailure counts every error.
	IsFailure func(err error) bool
	// OnStateChange observes transitions, e.g. for metrics.
	OnStateChange func(name, from, to string)
}

// Metrics is a snapshot of breaker state.
type Metrics struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// CircuitBreaker guards one logical dependency.
type CircuitBreaker struct {
	name   string
	opts   BreakerOptions
	logger *zap.Logger

	mu sync.RWMutex
	cb *gobreaker.CircuitBreaker

	statsMu     sync.Mutex
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker named after its dependency.
func NewCircuitBreaker(name string, opts BreakerOptions, logger *zap.Logger) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	if opts.HalfOpenSuccess <= 0 {
		opts.HalfOpenSuccess = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &CircuitBreaker{
		name:   name,
		opts:   opts,
		logger: logger.With(zap.String("breaker", name)),
	}
	b.cb = b.newBreaker()
	return b
}

func (b *CircuitBreaker) newBreaker() *gobreaker.CircuitBreaker {
	threshold := uint32(b.opts.FailureThreshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.name,
		MaxRequests: uint32(b.opts.HalfOpenSuccess),
		Timeout:     b.opts.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if b.opts.IsFailure != nil {
				return !b.opts.IsFailure(err)
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(stateName(from), stateName(to))
		},
	})
}

func (b *CircuitBreaker) onStateChange(from, to string) {
	b.statsMu.Lock()
	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateOpen, StateHalfOpen:
		b.successes = 0
	}
	b.statsMu.Unlock()

	b.logger.Info("circuit breaker state change", zap.String("from", from), zap.String("to", to))
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.name, from, to)
	}
}

// Name returns the dependency name.
func (b *CircuitBreaker) Name() string { return b.name }

func (b *CircuitBreaker) breaker() *gobreaker.CircuitBreaker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

// Execute runs op unless the breaker is open.
func (b *CircuitBreaker) Execute(op func() error) error {
	cb := b.breaker()
	var opErr error
	_, err := cb.Execute(func() (any, error) {
		opErr = op()
		return nil, opErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CircuitOpenError{Name: b.name}
	}
	b.record(opErr)
	return opErr
}

func (b *CircuitBreaker) record(err error) {
	// State may fire OnStateChange, which takes statsMu.
	closed := b.breaker().State() == gobreaker.StateClosed
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	if err == nil || (b.opts.IsFailure != nil && !b.opts.IsFailure(err)) {
		b.successes++
		if closed {
			b.failures = 0
		}
		return
	}
	b.failures++
	b.lastFailure = time.Now()
}

// Metrics reports the current state and counters.
func (b *CircuitBreaker) Metrics() Metrics {
	state := stateName(b.breaker().State())
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return Metrics{
		Name:            b.name,
		State:           state,
		FailureCount:    b.failures,
		SuccessCount:    b.successes,
		LastFailureTime: b.lastFailure,
	}
}

// State returns the current state name.
func (b *CircuitBreaker) State() string {
	return stateName(b.breaker().State())
}

// Reset forces the breaker closed and clears its counters.
func (b *CircuitBreaker) Reset() {
	prev := b.State()
	b.mu.Lock()
	b.cb = b.newBreaker()
	b.mu.Unlock()

	b.statsMu.Lock()
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
	b.statsMu.Unlock()

	if prev != StateClosed {
		b.onStateChange(prev, StateClosed)
	}
}

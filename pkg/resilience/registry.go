package resilience

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry owns the circuit breakers of a process, one per dependency name.
type Registry struct {
	mu       sync.Mutex
	defaults BreakerOptions
	logger   *zap.Logger
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers share defaults.
func NewRegistry(defaults BreakerOptions, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defaults: defaults,
		logger:   logger.Named("breaker"),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	return r.GetWith(name, nil)
}

// GetWith is Get with a failure classifier for a newly created breaker. It
// replaces the registry default and does not affect an existing breaker.
func (r *Registry) GetWith(name string, isFailure func(error) bool) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	opts := r.defaults
	if isFailure != nil {
		opts.IsFailure = isFailure
	}
	b := NewCircuitBreaker(name, opts, r.logger)
	r.breakers[name] = b
	return b
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Metrics snapshots every breaker, sorted by name.
func (r *Registry) Metrics() []Metrics {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Metrics, 0, len(list))
	for _, b := range list {
		out = append(out, b.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pario-ai/steer/pkg/resilience"
)

// Metrics are the gateway's Prometheus collectors.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	decisions    *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	spend        *prometheus.CounterVec
	blocked      prometheus.Counter
	fallbacks    prometheus.Counter
	breakerState *prometheus.GaugeVec
	dailySpend   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steer_routing_decisions_total",
			Help: "Routing decisions by target and deciding rule tag",
		}, []string{"provider", "model", "tag"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steer_cache_lookups_total",
			Help: "Semantic cache lookups by result",
		}, []string{"result"}),
		spend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steer_spend_total",
			Help: "Recorded request spend by provider and model",
		}, []string{"provider", "model"}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steer_budget_blocked_total",
			Help: "Requests refused by budget constraints",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steer_provider_fallbacks_total",
			Help: "Requests served by a fallback route",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "steer_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		}, []string{"name"}),
		dailySpend: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steer_daily_spend",
			Help: "In-process spend since the last daily reset",
		}),
	}
	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.decisions, m.cacheLookups,
		m.spend, m.blocked, m.fallbacks, m.breakerState, m.dailySpend,
	)
	return m
}

// ObserveBreaker records a breaker transition. It matches
// resilience.BreakerOptions.OnStateChange.
func (m *Metrics) ObserveBreaker(name, _, to string) {
	var v float64
	switch to {
	case resilience.StateHalfOpen:
		v = 1
	case resilience.StateOpen:
		v = 2
	}
	m.breakerState.WithLabelValues(name).Set(v)
}

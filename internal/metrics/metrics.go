// Package metrics provides Prometheus instrumentation for rule resolution.
// Methods are nil-safe so components run without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the underwriting engine and API.
type Metrics struct {
	// Resolution outcomes by eligibility and health class
	ResolutionOutcome *prometheus.CounterVec

	// Rules skipped during resolution by reason
	SkippedRules *prometheus.CounterVec

	// Resolutions that fell through to the default outcome
	DefaultOutcomes prometheus.Counter

	// Overall resolution latency
	ResolveLatency prometheus.Histogram

	// Predicate validations by result
	Validations *prometheus.CounterVec

	// API requests by transport, method, and status code
	Requests *prometheus.CounterVec

	// Rejected API keys by transport and reason
	AuthFailures *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ResolutionOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriter_resolution_outcomes_total",
			Help: "Total resolutions by eligibility and health class",
		}, []string{"eligibility", "health_class"}),

		SkippedRules: f.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriter_skipped_rules_total",
			Help: "Rules skipped during resolution by reason",
		}, []string{"reason"}), // reason: "unknown_field", "invalid_predicate", "missing_fact", "not_applicable"

		DefaultOutcomes: f.NewCounter(prometheus.CounterOpts{
			Name: "underwriter_default_outcomes_total",
			Help: "Resolutions where no rule matched",
		}),

		ResolveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "underwriter_resolve_duration_seconds",
			Help:    "Duration of rule resolution",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.1},
		}),

		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriter_predicate_validations_total",
			Help: "Predicate validations by result",
		}, []string{"result"}), // result: "valid", "invalid", "malformed"

		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriter_api_requests_total",
			Help: "API requests by transport, method, and status code",
		}, []string{"transport", "method", "code"}),

		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriter_auth_failures_total",
			Help: "Rejected API keys by transport and reason",
		}, []string{"transport", "reason"}), // reason: "missing", "invalid", "revoked", "unavailable"
	}
}

// IncrementOutcome records a resolution outcome.
func (m *Metrics) IncrementOutcome(eligibility, healthClass string) {
	if m != nil {
		m.ResolutionOutcome.WithLabelValues(eligibility, healthClass).Inc()
	}
}

// IncrementSkipped records a skipped rule.
func (m *Metrics) IncrementSkipped(reason string) {
	if m != nil {
		m.SkippedRules.WithLabelValues(reason).Inc()
	}
}

// IncrementDefault records a resolution that used the default outcome.
func (m *Metrics) IncrementDefault() {
	if m != nil {
		m.DefaultOutcomes.Inc()
	}
}

// ObserveResolveLatency records the resolution duration.
func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}

// IncrementValidation records a predicate validation result.
func (m *Metrics) IncrementValidation(result string) {
	if m != nil {
		m.Validations.WithLabelValues(result).Inc()
	}
}

// IncrementRequest records an API request.
func (m *Metrics) IncrementRequest(transport, method, code string) {
	if m != nil {
		m.Requests.WithLabelValues(transport, method, code).Inc()
	}
}

// IncrementAuthFailure records a rejected API key.
func (m *Metrics) IncrementAuthFailure(transport, reason string) {
	if m != nil {
		m.AuthFailures.WithLabelValues(transport, reason).Inc()
	}
}

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for challenge sessions. A disabled
// instance is a valid no-op so call sites never branch.
type Metrics struct {
	enabled bool

	deploysTotal      *prometheus.CounterVec
	deployDuration    *prometheus.HistogramVec
	validationsTotal  *prometheus.CounterVec
	validationLatency prometheus.Histogram
	safetyBlocks      *prometheus.CounterVec
	hintsTotal        prometheus.Counter
	transitionsTotal  *prometheus.CounterVec
	completionsTotal  *prometheus.CounterVec
	xpAwarded         prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates the metrics collector. When disabled every method
// is a no-op and nothing is registered.
func NewMetrics(enabled bool) *Metrics {
	if !enabled {
		return &Metrics{}
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		enabled:  true,
		registry: registry,
		deploysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena",
				Name:      "deploys_total",
				Help:      "Deploy attempts by domain and outcome",
			},
			[]string{"domain", "outcome"},
		),
		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "arena",
				Name:      "deploy_duration_seconds",
				Help:      "Deploy latency by domain",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"domain"},
		),
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena",
				Name:      "validations_total",
				Help:      "Flag submissions by domain and outcome",
			},
			[]string{"domain", "outcome"},
		),
		validationLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "arena",
				Name:      "validation_duration_seconds",
				Help:      "Validator script latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		safetyBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena",
				Name:      "safety_blocks_total",
				Help:      "Commands blocked by the safety guard, by severity",
			},
			[]string{"severity"},
		),
		hintsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arena",
				Name:      "hints_total",
				Help:      "Hint requests across all challenges",
			},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena",
				Name:      "session_transitions_total",
				Help:      "Session state machine transitions",
			},
			[]string{"from", "to"},
		),
		completionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena",
				Name:      "completions_total",
				Help:      "Challenges completed by domain",
			},
			[]string{"domain"},
		),
		xpAwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arena",
				Name:      "xp_awarded_total",
				Help:      "XP awarded across all challenges",
			},
		),
	}

	registry.MustRegister(
		m.deploysTotal,
		m.deployDuration,
		m.validationsTotal,
		m.validationLatency,
		m.safetyBlocks,
		m.hintsTotal,
		m.transitionsTotal,
		m.completionsTotal,
		m.xpAwarded,
	)
	return m
}

// RecordDeploy records one deploy attempt.
func (m *Metrics) RecordDeploy(domain, outcome string, seconds float64) {
	if !m.enabled {
		return
	}
	m.deploysTotal.WithLabelValues(domain, outcome).Inc()
	m.deployDuration.WithLabelValues(domain).Observe(seconds)
}

// RecordValidation records one flag submission.
func (m *Metrics) RecordValidation(domain, outcome string, seconds float64) {
	if !m.enabled {
		return
	}
	m.validationsTotal.WithLabelValues(domain, outcome).Inc()
	m.validationLatency.Observe(seconds)
}

// RecordSafetyBlock records one blocked command.
func (m *Metrics) RecordSafetyBlock(severity string) {
	if !m.enabled {
		return
	}
	m.safetyBlocks.WithLabelValues(severity).Inc()
}

// RecordHint records one hint request.
func (m *Metrics) RecordHint() {
	if !m.enabled {
		return
	}
	m.hintsTotal.Inc()
}

// RecordTransition records one state machine transition.
func (m *Metrics) RecordTransition(from, to string) {
	if !m.enabled {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordCompletion records one completed challenge and its XP award.
func (m *Metrics) RecordCompletion(domain string, xp int) {
	if !m.enabled {
		return
	}
	m.completionsTotal.WithLabelValues(domain).Inc()
	m.xpAwarded.Add(float64(xp))
}

// Handler returns the scrape endpoint, or nil when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

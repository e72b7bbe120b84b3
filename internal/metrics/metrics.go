// Package metrics exposes the bridge's prometheus collectors.
//
// All recording methods are safe on a nil *Metrics so packages can be used
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "convbridge"

// Metrics groups the collectors recorded by the conversation core.
type Metrics struct {
	gatherer prometheus.Gatherer

	admissions     *prometheus.CounterVec
	turns          *prometheus.CounterVec
	backendTries   *prometheus.CounterVec
	backendLatency prometheus.Histogram
	historyLookups *prometheus.CounterVec
	inFlight       prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_total",
			Help:      "Admission decisions by entry path, verdict and reason.",
		}, []string{"path", "verdict", "reason"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by final state.",
		}, []string{"state"}),
		backendTries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Backend request attempts by result.",
		}, []string{"result"}),
		backendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_seconds",
			Help:      "Latency of a full backend ask, retries included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		historyLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_lookups_total",
			Help:      "Thread history replays by result.",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_in_flight",
			Help:      "Turns currently being handled.",
		}),
	}
	reg.MustRegister(
		m.admissions,
		m.turns,
		m.backendTries,
		m.backendLatency,
		m.historyLookups,
		m.inFlight,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.gatherer
}

func (m *Metrics) Admission(path, verdict, reason string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(path, verdict, reason).Inc()
}

func (m *Metrics) TurnFinished(state string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(state).Inc()
}

func (m *Metrics) BackendAttempt(result string) {
	if m == nil {
		return
	}
	m.backendTries.WithLabelValues(result).Inc()
}

func (m *Metrics) BackendLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.backendLatency.Observe(d.Seconds())
}

func (m *Metrics) HistoryLookup(result string) {
	if m == nil {
		return
	}
	m.historyLookups.WithLabelValues(result).Inc()
}

// TurnStarted increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TurnStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

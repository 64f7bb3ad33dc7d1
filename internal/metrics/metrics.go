package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Record outcomes
const (
	OutcomeRegistered = "registered"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
)

// Outcomes lists every value of the outcome label
var Outcomes = []string{OutcomeRegistered, OutcomeRejected, OutcomeFailed}

// Metrics holds all Prometheus metrics for the sidecar
type Metrics struct {
	// Pipeline counters
	EventsTotal        *prometheus.CounterVec
	RecordsTotal       *prometheus.CounterVec
	WatchRestartsTotal prometheus.Counter

	// Reconcile latency, bcrypt included
	ReconcileDurationSeconds prometheus.Histogram

	// Readiness gate state
	Ready prometheus.Gauge

	// HTTP server metrics
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	// System metrics
	UptimeSeconds     prometheus.Gauge
	Goroutines        prometheus.Gauge
	DatabaseSizeBytes prometheus.Gauge
	JournalEntries    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acme_dns_sidecar_events_total",
				Help: "Total number of secret watch events received, by event type",
			},
			[]string{"type"},
		),
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acme_dns_sidecar_records_total",
				Help: "Total number of credential records processed, by outcome",
			},
			[]string{"outcome"},
		),
		WatchRestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "acme_dns_sidecar_watch_restarts_total",
				Help: "Total number of times the secret watch was re-established",
			},
		),

		ReconcileDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "acme_dns_sidecar_reconcile_duration_seconds",
				Help:    "Time spent reconciling one record into the acme-dns database",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		Ready: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "acme_dns_sidecar_ready",
				Help: "1 once the acme-dns database is ready and the watch loop runs",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acme_dns_sidecar_http_requests_total",
				Help: "Total number of HTTP requests to the metrics server",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acme_dns_sidecar_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "acme_dns_sidecar_uptime_seconds",
				Help: "Sidecar uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "acme_dns_sidecar_goroutines",
				Help: "Number of active goroutines",
			},
		),
		DatabaseSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "acme_dns_sidecar_database_size_bytes",
				Help: "Size of the acme-dns database file in bytes",
			},
		),
		JournalEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "acme_dns_sidecar_journal_entries",
				Help: "Number of entries in the reconcile journal",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EventsTotal,
		m.RecordsTotal,
		m.WatchRestartsTotal,
		m.ReconcileDurationSeconds,
		m.Ready,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.UptimeSeconds,
		m.Goroutines,
		m.DatabaseSizeBytes,
		m.JournalEntries,
	)

	// Every outcome is exported from the start, at zero until it happens
	for _, outcome := range Outcomes {
		m.RecordsTotal.WithLabelValues(outcome)
	}

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncEvents increments the watch event counter
func IncEvents(eventType string) {
	m := Global()
	if m != nil {
		m.EventsTotal.WithLabelValues(eventType).Inc()
	}
}

// IncRecords increments the record counter for outcome
func IncRecords(outcome string) {
	m := Global()
	if m != nil {
		m.RecordsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncWatchRestarts increments the watch restart counter
func IncWatchRestarts() {
	m := Global()
	if m != nil {
		m.WatchRestartsTotal.Inc()
	}
}

// ObserveReconcileDuration records the time one reconcile took
func ObserveReconcileDuration(d time.Duration) {
	m := Global()
	if m != nil {
		m.ReconcileDurationSeconds.Observe(d.Seconds())
	}
}

// SetReady sets the readiness gauge
func SetReady(ready bool) {
	m := Global()
	if m == nil {
		return
	}
	if ready {
		m.Ready.Set(1)
	} else {
		m.Ready.Set(0)
	}
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the studio's prometheus collectors on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	activeRuns     *prometheus.GaugeVec
	pollAttempts   *prometheus.CounterVec
	storageSkipped *prometheus.CounterVec
	historyFailed  prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_orchestrator_runs_total",
			Help: "Total orchestrator runs by job kind and final phase.",
		}, []string{"kind", "phase"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studio_orchestrator_run_duration_seconds",
			Help:    "Duration of orchestrator runs from start to terminal phase.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 180, 300},
		}, []string{"kind", "phase"}),
		activeRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "studio_orchestrator_active_runs",
			Help: "Orchestrator runs currently in flight.",
		}, []string{"kind"}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_poll_attempts_total",
			Help: "Job status queries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		storageSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_storage_quota_skipped_total",
			Help: "Values kept in memory only because they exceeded the admission threshold.",
		}, []string{"key"}),
		historyFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studio_history_record_failures_total",
			Help: "Best-effort history recordings that failed.",
		}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.activeRuns,
		m.pollAttempts,
		m.storageSkipped,
		m.historyFailed,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunStarted(kind string) {
	if m == nil {
		return
	}
	m.activeRuns.WithLabelValues(kind).Inc()
}

func (m *Metrics) RunFinished(kind, phase string, seconds float64) {
	if m == nil {
		return
	}
	m.activeRuns.WithLabelValues(kind).Dec()
	m.runsTotal.WithLabelValues(kind, phase).Inc()
	m.runDuration.WithLabelValues(kind, phase).Observe(seconds)
}

func (m *Metrics) PollAttempt(kind, outcome string) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) StorageSkipped(key string) {
	if m == nil {
		return
	}
	m.storageSkipped.WithLabelValues(key).Inc()
}

func (m *Metrics) HistoryFailed() {
	if m == nil {
		return
	}
	m.historyFailed.Inc()
}

// Package metrics exposes a small Prometheus registry for the
// orchestration core: state transitions, provider selection outcomes,
// retry attempts, cache evictions, and watchdog stalls.
//
// Grounded on the teacher's internal/metrics.PrometheusMetrics: a single
// struct wrapping a dedicated prometheus.Registry with one entry-point
// method per event kind, rather than scattering prometheus.MustRegister
// calls across the codebase. Narrowed from the teacher's VM-fleet metric
// set (invocations/cold-starts/VM lifecycle) to this module's FSM/
// provider/retry/cache/watchdog events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors this module records against.
type Metrics struct {
	registry *prometheus.Registry

	transitionsTotal      *prometheus.CounterVec
	providerSelectedTotal *prometheus.CounterVec
	providerUnavailable   *prometheus.CounterVec
	retryAttemptsTotal    *prometheus.CounterVec
	cacheEvictionsTotal   prometheus.Counter
	cacheEvictedBytes     prometheus.Counter
	watchdogStallsTotal   *prometheus.CounterVec

	generationDuration *prometheus.HistogramVec
	tokensEmittedTotal prometheus.Counter
	loadedModels       prometheus.Gauge
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// New constructs a Metrics registry under namespace, with its own
// prometheus.Registry (never the global default registry, so multiple
// orchestrator instances in one process do not collide).
func New(namespace string, buckets []float64) *Metrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fsm_transitions_total", Help: "FSM transitions by target state",
		}, []string{"state"}),

		providerSelectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_selected_total", Help: "Provider selections by winning provider id",
		}, []string{"provider"}),

		providerUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_unavailable_total", Help: "Candidate providers reporting unavailable during selection",
		}, []string{"provider"}),

		retryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_attempts_total", Help: "Retry budget attempts by outcome",
		}, []string{"outcome"}),

		cacheEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_evictions_total", Help: "Model cache entries evicted",
		}),

		cacheEvictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_evicted_bytes_total", Help: "Bytes freed by model cache eviction",
		}),

		watchdogStallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "watchdog_stalls_total", Help: "Watchdog non-healthy ticks by outcome",
		}, []string{"outcome"}),

		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "generation_duration_ms", Help: "Time spent in GENERATING per request", Buckets: buckets,
		}, []string{"status"}),

		tokensEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tokens_emitted_total", Help: "Tokens emitted across all generations",
		}),

		loadedModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "loaded_models", Help: "Currently loaded model count",
		}),
	}

	registry.MustRegister(
		m.transitionsTotal, m.providerSelectedTotal, m.providerUnavailable,
		m.retryAttemptsTotal, m.cacheEvictionsTotal, m.cacheEvictedBytes,
		m.watchdogStallsTotal, m.generationDuration, m.tokensEmittedTotal, m.loadedModels,
	)

	return m
}

// RecordTransition increments the transition counter for the destination state.
func (m *Metrics) RecordTransition(state string) {
	m.transitionsTotal.WithLabelValues(state).Inc()
}

// RecordSelection records the outcome of one provider-selection candidate.
func (m *Metrics) RecordSelection(providerID string, available bool) {
	if available {
		m.providerSelectedTotal.WithLabelValues(providerID).Inc()
		return
	}
	m.providerUnavailable.WithLabelValues(providerID).Inc()
}

// RecordRetryAttempt records one retry-budget outcome ("reduced",
// "exhausted", or "overflow").
func (m *Metrics) RecordRetryAttempt(outcome string) {
	m.retryAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordEviction records one model-cache eviction.
func (m *Metrics) RecordEviction(freedBytes int64) {
	m.cacheEvictionsTotal.Inc()
	m.cacheEvictedBytes.Add(float64(freedBytes))
}

// RecordWatchdogStall records one non-healthy watchdog tick.
func (m *Metrics) RecordWatchdogStall(outcome string) {
	m.watchdogStallsTotal.WithLabelValues(outcome).Inc()
}

// RecordGeneration records a completed generation's duration and status
// ("ok", "aborted", "error").
func (m *Metrics) RecordGeneration(durationMs float64, status string) {
	m.generationDuration.WithLabelValues(status).Observe(durationMs)
}

// RecordToken increments the total token counter.
func (m *Metrics) RecordToken() {
	m.tokensEmittedTotal.Inc()
}

// SetLoadedModels sets the current loaded-model gauge.
func (m *Metrics) SetLoadedModels(n int) {
	m.loadedModels.Set(float64(n))
}

// Handler exposes this registry's metrics over HTTP for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instrumentation for the harvesting pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xalpha"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	itemsCollected  *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	rateLimited     prometheus.Counter
	itemsDeduped    prometheus.Counter
	analyses        *prometheus.CounterVec
	analysisLatency prometheus.Histogram
	signalsSaved    prometheus.Counter
	saveFailures    prometheus.Counter
	alerts          *prometheus.CounterVec
	lastCheckpoint  prometheus.Gauge
}

// New registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Completed orchestrator cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of one orchestrator cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		itemsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_collected_total",
			Help: "Items extracted per retrieval channel.",
		}, []string{"channel"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_failures_total",
			Help: "Failed source requests by channel and reason.",
		}, []string{"channel", "reason"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "HTTP 429 responses from the primary channel.",
		}),
		itemsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_deduped_total",
			Help: "Collected items skipped as already seen.",
		}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "analyses_total",
			Help: "Analysis outcomes.",
		}, []string{"outcome"}),
		analysisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "analysis_duration_seconds",
			Help:    "Latency of a single analysis including retries.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		signalsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_saved_total",
			Help: "Signals upserted into the store.",
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "signal_save_failures_total",
			Help: "Signal writes that failed.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Signal notifications by result.",
		}, []string{"result"}),
		lastCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_checkpoint_timestamp_seconds",
			Help: "Unix time of the last written checkpoint.",
		}),
	}
	reg.MustRegister(
		m.cycles, m.cycleDuration, m.itemsCollected, m.fetchFailures, m.rateLimited,
		m.itemsDeduped, m.analyses, m.analysisLatency, m.signalsSaved, m.saveFailures,
		m.alerts, m.lastCheckpoint,
	)
	return m
}

// Registry returns the underlying registry, or nil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleCompleted(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) ItemsCollected(channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsCollected.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) FetchFailed(channel, reason string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(channel, reason).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ItemsDeduped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsDeduped.Add(float64(n))
}

func (m *Metrics) Analysis(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome).Inc()
	m.analysisLatency.Observe(took.Seconds())
}

func (m *Metrics) SignalSaved(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.signalsSaved.Inc()
		return
	}
	m.saveFailures.Inc()
}

func (m *Metrics) Alert(result string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(result).Inc()
}

func (m *Metrics) Checkpoint(t time.Time) {
	if m == nil {
		return
	}
	m.lastCheckpoint.Set(float64(t.Unix()))
}

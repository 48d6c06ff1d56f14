// Package observability exposes the worker's Prometheus instrumentation:
// delivery counters, queue-depth gauges, and send-latency histograms,
// served from the admin HTTP surface at /metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chesshelper/internal/types"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can treat instrumentation as optional.
type Metrics struct {
	registry *prometheus.Registry

	emailsProcessed *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	sendLatency     prometheus.Histogram
	batchDuration   prometheus.Histogram
	sweptItems      prometheus.Counter
	healthState     prometheus.Gauge
}

// NewMetrics creates and registers the worker's collectors on a fresh
// registry (including the standard Go and process collectors).
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		emailsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chesshelper_emails_processed_total",
				Help: "Delivery attempts grouped by outcome (sent, failed, suppressed, retried)",
			},
			[]string{"outcome"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chesshelper_queue_depth",
				Help: "Queue item counts by status",
			},
			[]string{"status"},
		),
		sendLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chesshelper_send_latency_seconds",
				Help:    "Transport send latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chesshelper_batch_duration_seconds",
				Help:    "Batch processing run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		sweptItems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chesshelper_swept_items_total",
				Help: "Stale processing items reclaimed to pending by the sweep",
			},
		),
		healthState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chesshelper_healthy",
				Help: "1 when the last health check passed, 0 otherwise",
			},
		),
	}

	registry.MustRegister(
		m.emailsProcessed,
		m.queueDepth,
		m.sendLatency,
		m.batchDuration,
		m.sweptItems,
		m.healthState,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOutcome increments the processed counter for one delivery outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.emailsProcessed.WithLabelValues(outcome).Inc()
}

// ObserveSendLatency records one transport send duration.
func (m *Metrics) ObserveSendLatency(seconds float64) {
	if m == nil {
		return
	}
	m.sendLatency.Observe(seconds)
}

// ObserveBatchDuration records one batch run duration.
func (m *Metrics) ObserveBatchDuration(seconds float64) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(seconds)
}

// SetQueueDepth publishes the store's aggregate counters as gauges.
func (m *Metrics) SetQueueDepth(stats types.QueueStatistics) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(string(types.StatusPending)).Set(float64(stats.TotalPending))
	m.queueDepth.WithLabelValues(string(types.StatusProcessing)).Set(float64(stats.TotalProcessing))
	m.queueDepth.WithLabelValues(string(types.StatusSent)).Set(float64(stats.TotalSent))
	m.queueDepth.WithLabelValues(string(types.StatusFailed)).Set(float64(stats.TotalFailed))
	m.queueDepth.WithLabelValues(string(types.StatusCancelled)).Set(float64(stats.TotalCancelled))
}

// AddSwept counts items the sweep reclaimed.
func (m *Metrics) AddSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptItems.Add(float64(n))
}

// SetHealthy publishes the last health check verdict.
func (m *Metrics) SetHealthy(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.healthState.Set(1)
	} else {
		m.healthState.Set(0)
	}
}

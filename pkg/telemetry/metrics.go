package telemetry

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	interactionsTotal  *prometheus.CounterVec
	interactionLatency *prometheus.HistogramVec
	confidenceGauge    *prometheus.GaugeVec
	spanDuration       *prometheus.HistogramVec
}

// newMetrics registers a private registry rather than the global default
// so multiple OtelSink instances (as in tests) don't collide on duplicate
// registration.
func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		interactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_interactions_total",
			Help: "Total orchestrated interactions by mode and outcome.",
		}, []string{"mode", "status"}),
		interactionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_interaction_latency_ms",
			Help:    "Interaction end-to-end latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"mode"}),
		confidenceGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentcore_interaction_confidence",
			Help: "Most recent interaction confidence by mode.",
		}, []string{"mode"}),
		spanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_span_duration_ms",
			Help:    "Recorded span duration in milliseconds by component.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"component", "name"}),
	}
	reg.MustRegister(m.interactionsTotal, m.interactionLatency, m.confidenceGauge, m.spanDuration)
	return m
}

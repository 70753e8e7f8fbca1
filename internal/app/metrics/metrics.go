// Package metrics exposes Prometheus collectors for the settlement core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	settlementOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commerce_layer",
			Subsystem: "settlement",
			Name:      "outcomes_total",
			Help:      "Terminal settlement outcomes by result.",
		},
		[]string{"result"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "commerce_layer",
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Duration of full settlement flows.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"result"},
	)

	broadcastRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commerce_layer",
			Subsystem: "chain",
			Name:      "broadcast_retries_total",
			Help:      "Broadcast retries by error classification.",
		},
		[]string{"kind"},
	)

	sequenceGaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "commerce_layer",
			Subsystem: "chain",
			Name:      "sequence_gaps_total",
			Help:      "Allocated sequence numbers whose broadcast permanently failed.",
		},
	)

	stuckLocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "commerce_layer",
			Subsystem: "settlement",
			Name:      "stuck_locks",
			Help:      "Listings whose processing lock exceeds the watchdog threshold.",
		},
	)

	webhookReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "commerce_layer",
			Subsystem: "payments",
			Name:      "webhook_replays_total",
			Help:      "Webhook deliveries skipped by the idempotency gate.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commerce_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "commerce_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		settlementOutcomes,
		settlementDuration,
		broadcastRetries,
		sequenceGaps,
		stuckLocks,
		webhookReplays,
		httpRequests,
		httpDuration,
	)
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordSettlement records a terminal settlement outcome and its duration.
func RecordSettlement(result string, d time.Duration) {
	settlementOutcomes.WithLabelValues(result).Inc()
	settlementDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordBroadcastRetry counts one retry after a classified broadcast error.
func RecordBroadcastRetry(kind string) {
	broadcastRetries.WithLabelValues(kind).Inc()
}

// RecordSequenceGap counts a permanently skipped sequence number.
func RecordSequenceGap() {
	sequenceGaps.Inc()
}

// SetStuckLocks updates the stuck-lock gauge from a watchdog sweep.
func SetStuckLocks(n int) {
	stuckLocks.Set(float64(n))
}

// RecordWebhookReplay counts an already-handled webhook delivery.
func RecordWebhookReplay() {
	webhookReplays.Inc()
}

// Handler returns an HTTP handler exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

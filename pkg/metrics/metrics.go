package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the launcher's internal operational metrics. It is a
// dedicated registry so the instance exposition controls its own ordering
// and the internal families are appended after it.
var Registry = prometheus.NewRegistry()

var (
	// HTTPRequestsTotal counts API requests by method and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_http_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	// ReconcilerPassesTotal counts completed reconciler passes.
	ReconcilerPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_reconciler_passes_total",
			Help: "Total number of reconciler passes",
		},
	)

	// ReconcilerPassDuration observes how long each pass takes.
	ReconcilerPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "openclaw_reconciler_pass_duration_seconds",
			Help:    "Reconciler pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LogStreamsActive gauges currently open log follow streams.
	LogStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openclaw_log_streams_active",
			Help: "Number of currently open log follow streams",
		},
	)
)

func init() {
	Registry.MustRegister(HTTPRequestsTotal)
	Registry.MustRegister(ReconcilerPassesTotal)
	Registry.MustRegister(ReconcilerPassDuration)
	Registry.MustRegister(LogStreamsActive)
}

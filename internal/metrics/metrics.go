// Package metrics exposes the Prometheus collectors for pieceserver,
// following the registry shape of the teacher's go-server-3
// internal/metrics package and ws/internal/single/monitoring/metrics.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every collector the server touches.
type Registry struct {
	ActiveConnections prometheus.Gauge
	ActiveDocuments   prometheus.Gauge

	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter

	EditOpsApplied    prometheus.Counter
	BackspaceSwaps    prometheus.Counter
	RateLimited       prometheus.Counter
	ConnectionsRejected prometheus.Counter
	BroadcastDropped  prometheus.Counter

	SavesSucceeded prometheus.Counter
	SavesFailed    prometheus.Counter

	ApplyLatency prometheus.Histogram
}

// NewRegistry constructs and registers every collector against the
// default Prometheus registry.
func NewRegistry() *Registry {
	return &Registry{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pieceserver_connections_active",
			Help: "Number of currently connected clients.",
		}),
		ActiveDocuments: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pieceserver_documents_active",
			Help: "Number of documents with at least one connected client.",
		}),
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_messages_received_total",
			Help: "Total C2S messages decoded from clients.",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_messages_sent_total",
			Help: "Total S2C messages written to clients.",
		}),
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_bytes_received_total",
			Help: "Total payload bytes read from client sockets.",
		}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_bytes_sent_total",
			Help: "Total payload bytes written to client sockets.",
		}),
		EditOpsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_edit_ops_applied_total",
			Help: "Total edit operations applied to a document's piece table.",
		}),
		BackspaceSwaps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_backspace_swaps_total",
			Help: "Total adjacent-piece swaps performed while backspacing.",
		}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_rate_limited_total",
			Help: "Total messages dropped for exceeding a connection's rate limit.",
		}),
		ConnectionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_connections_rejected_total",
			Help: "Total connections refused by the resource guard.",
		}),
		BroadcastDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_broadcast_dropped_total",
			Help: "Total broadcast sends dropped because a peer's send queue was full or fan-out was paused under CPU load.",
		}),
		SavesSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_saves_succeeded_total",
			Help: "Total successful document saves.",
		}),
		SavesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pieceserver_saves_failed_total",
			Help: "Total document saves that failed I/O.",
		}),
		ApplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pieceserver_apply_latency_seconds",
			Help:    "Latency of applying one C2S edit to a document's piece table.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the Prometheus exposition format.
func (r *Registry) Handler() http.Handler { return promhttp.Handler() }

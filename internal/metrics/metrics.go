// Package metrics provides Prometheus instrumentation for the FlowMessage
// server: gauges for connection and presence counts, counters for message
// and delivery throughput, and histograms for request latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowmessage_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of users with a bound presence entry.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowmessage_online_users",
		Help: "Current number of users present in the registry",
	})

	// MessagesStored counts messages durably appended to chats.
	MessagesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowmessage_messages_stored_total",
		Help: "Total number of messages persisted",
	})

	// DeliveriesTotal counts real-time delivery attempts by outcome.
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowmessage_deliveries_total",
		Help: "Real-time delivery attempts by outcome",
	}, []string{"outcome"}) // outcome = "delivered", "offline", "failed"

	// AppendLatency records message append latency in seconds.
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowmessage_append_latency_seconds",
		Help:    "Message append latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// HTTPDuration records REST handler latency in seconds by route.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowmessage_http_duration_seconds",
		Help:    "REST handler latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesStored,
		DeliveriesTotal,
		AppendLatency,
		HTTPDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

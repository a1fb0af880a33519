// Package metrics exposes Prometheus collectors for the tutoring server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tutor"

// Metrics holds the server collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	Sessions          prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	PlannerRequests   *prometheus.CounterVec
	PlannerLatency    *prometheus.HistogramVec
	SessionsExpired   prometheus.Counter
	Uploads           prometheus.Counter
}

// New creates a registry with process and Go collectors plus the tutor
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Open WebSocket connections.",
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Tutoring sessions held in memory.",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Client messages received, by type.",
		}, []string{"type"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Server messages sent, by type.",
		}, []string{"type"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Client messages discarded, by reason.",
		}, []string{"reason"}),
		PlannerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_requests_total",
			Help:      "Planner calls, by operation and result.",
		}, []string{"op", "result"}),
		PlannerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planner_latency_seconds",
			Help:      "Planner call latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions evicted by the TTL worker.",
		}),
		Uploads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Files accepted by the upload endpoint.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

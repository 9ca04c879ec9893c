// Package metrics holds the Prometheus collectors for the hub and the gin
// middleware that feeds the HTTP ones.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the hub exports.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StreamsActive   prometheus.Gauge
	StreamsTotal    prometheus.Counter
	ToolCallsTotal  *prometheus.CounterVec
}

// New creates and registers the hub's collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assistant",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "assistant",
			Name:      "chat_streams_active",
			Help:      "Chat completion streams currently running.",
		}),
		StreamsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "chat_streams_total",
			Help:      "Chat completion streams started.",
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name.",
		}, []string{"tool"}),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.StreamsActive,
		m.StreamsTotal,
		m.ToolCallsTotal,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// GinMiddleware records request counts and latency per route. The route
// label uses gin's template path so IDs don't explode cardinality.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// StreamStarted marks a chat stream as running; the returned func marks it
// finished.
func (m *Metrics) StreamStarted() func() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
	return m.StreamsActive.Dec
}

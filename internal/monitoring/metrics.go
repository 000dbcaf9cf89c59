// Package monitoring exposes Prometheus metrics and health checks for the
// playground server.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "panes"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Render metrics
	Renders        prometheus.Counter
	RenderDuration prometheus.Histogram
	RenderFailures *prometheus.CounterVec

	// Diagnostic metrics
	Diagnostics     *prometheus.CounterVec
	DroppedMessages *prometheus.CounterVec
	Highlights      prometheus.Counter

	// Storage metrics
	PersistenceFailures *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSRateLimited prometheus.Counter
}

// NewMetrics creates the metrics on a fresh registry, so several instances
// can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Renders: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Total number of composed documents loaded into a sandbox",
		}),
		RenderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent composing and persisting a render",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		RenderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_failures_total",
			Help:      "Renders that failed to compose or load",
		}, []string{"stage"}),

		Diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Diagnostic messages accepted by the relay",
		}, []string{"kind"}),
		DroppedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Cross-boundary messages dropped by the relay",
		}, []string{"reason"}),
		Highlights: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_highlights_total",
			Help:      "Located errors highlighted in the script buffer",
		}),

		PersistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Buffer writes that fell back to memory-only",
		}, []string{"code"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live editing sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of editing sessions started",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of active WebSocket connections",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type",
		}, []string{"direction", "type"}),
		WSRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_rate_limited_total",
			Help:      "Inbound WebSocket messages rejected by the rate limiter",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRender records one completed render.
func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.Renders.Inc()
	m.RenderDuration.Observe(d.Seconds())
}

// RenderFailed records a failed render stage.
func (m *Metrics) RenderFailed(stage string) {
	if m == nil {
		return
	}
	m.RenderFailures.WithLabelValues(stage).Inc()
}

// Diagnostic records an accepted diagnostic message.
func (m *Metrics) Diagnostic(kind string) {
	if m == nil {
		return
	}
	m.Diagnostics.WithLabelValues(kind).Inc()
}

// Dropped records a dropped cross-boundary message.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedMessages.WithLabelValues(reason).Inc()
}

// Highlighted records an error highlight.
func (m *Metrics) Highlighted() {
	if m == nil {
		return
	}
	m.Highlights.Inc()
}

// PersistenceFailed records a buffer write that fell back to memory.
func (m *Metrics) PersistenceFailed(code string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(code).Inc()
}

// SessionStarted records a new session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// SessionEnded records a finished session.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// WSMessage records a websocket message.
func (m *Metrics) WSMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

// WSConnected records an opened websocket connection.
func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// WSDisconnected records a closed websocket connection.
func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RateLimited records an inbound message dropped by the rate limiter.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.WSRateLimited.Inc()
}

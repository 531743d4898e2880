// Package metrics exposes Prometheus instrumentation for the call core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Finalization outcomes.
const (
	ResultSuccess = "success"
	ResultEmpty   = "empty"
	ResultFailed  = "failed"
)

// Metrics holds every collector on a private registry, so multiple servers
// (and tests) can coexist in one process. All methods are safe on a nil
// receiver.
type Metrics struct {
	Registry *prometheus.Registry

	WebhookEvents       *prometheus.CounterVec
	CallsEnded          *prometheus.CounterVec
	StreamFrames        prometheus.Counter
	Finalizations       *prometheus.CounterVec
	FinalizeDuration    *prometheus.HistogramVec
	Broadcasts          *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_webhook_events_total",
			Help: "Provider webhook events received, by kind",
		}, []string{"kind"}),
		CallsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_calls_ended_total",
			Help: "Calls that reached a terminal status, by status",
		}, []string{"status"}),
		StreamFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_stream_frames_total",
			Help: "Media frames appended to stream sessions",
		}),
		Finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_finalizations_total",
			Help: "Post-call processing runs, by source and result",
		}, []string{"source", "result"}),
		FinalizeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_finalize_duration_seconds",
			Help:    "Time spent transcribing and summarizing call audio",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"source"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_broadcasts_total",
			Help: "Dashboard events broadcast, by type",
		}, []string{"type"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_http_requests_total",
			Help: "HTTP requests handled, by method, route and status code",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RegisterGauge exposes a live value read at scrape time, such as the number
// of active calls.
func (m *Metrics) RegisterGauge(name, help string, fn func() int) {
	if m == nil {
		return
	}
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 { return float64(fn()) })
}

// WebhookEvent counts one webhook by kind.
func (m *Metrics) WebhookEvent(kind string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(kind).Inc()
}

// CallEnded counts a terminal transition.
func (m *Metrics) CallEnded(status string) {
	if m == nil {
		return
	}
	m.CallsEnded.WithLabelValues(status).Inc()
}

// Frame counts one appended media frame.
func (m *Metrics) Frame() {
	if m == nil {
		return
	}
	m.StreamFrames.Inc()
}

// Finalized records the outcome of a post-call processing run.
func (m *Metrics) Finalized(source, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Finalizations.WithLabelValues(source, result).Inc()
	if result == ResultSuccess {
		m.FinalizeDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	}
}

// Broadcast counts a dashboard event.
func (m *Metrics) Broadcast(eventType string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(eventType).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

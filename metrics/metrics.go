package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's collectors on a private registry so tests can
// build as many instances as they like.
//
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	webhookEvents  *prometheus.CounterVec
	vendorDuration *prometheus.HistogramVec
	activeCalls    prometheus.Gauge
	httpDuration   *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voice_agent",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Telnyx webhook events by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		vendorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "voice_agent",
				Subsystem: "vendor",
				Name:      "request_duration_seconds",
				Help:      "Latency of calls to third-party voice vendors",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"vendor", "op", "outcome"},
		),
		activeCalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "voice_agent",
				Subsystem: "call",
				Name:      "active",
				Help:      "Number of calls currently in progress",
			},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "voice_agent",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "route"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voice_agent",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// WebhookEvent counts one processed webhook delivery.
func (m *Metrics) WebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// ObserveVendor records how long a vendor call took since start.
func (m *Metrics) ObserveVendor(vendor, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.vendorDuration.WithLabelValues(vendor, op, outcome(err)).Observe(time.Since(start).Seconds())
}

// SetActiveCalls sets the gauge from the call state store's count, which
// may be shared by several instances.
func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.activeCalls.Set(float64(n))
}

// ObserveHTTP records a finished HTTP request
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
	"github.com/vango-dev/apid/pkg/server"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "apid").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use. When it is also a
	// prometheus.Gatherer, Handler serves it.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "apid",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics collects Prometheus metrics for service requests and session
// lifecycle. Its Middleware goes into server.ServerConfig.Middleware and
// the value itself into ServerConfig.Observers.
//
// Metrics collected:
//   - apid_requests_total: requests dispatched, by service and status
//   - apid_request_dispatch_seconds: time spent dispatching a request
//   - apid_request_errors_total: failed dispatches, by service and error type
//   - apid_sessions_active: open sessions
//   - apid_sessions_total: sessions opened since start
//   - apid_messages_dropped_total: discarded inbound frames, by reason
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	requestErrors    *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	messagesDropped  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the metrics with the configured registry. It panics
// if they are already registered there, as promauto does.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	m := &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of service requests dispatched",
			ConstLabels: config.ConstLabels,
		}, []string{"service", "status"}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_dispatch_seconds",
			Help:        "Time spent dispatching a service request in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"service"}),

		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_errors_total",
			Help:        "Total number of failed request dispatches",
			ConstLabels: config.ConstLabels,
		}, []string{"service", "error_type"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_active",
			Help:        "Number of active WebSocket sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_total",
			Help:        "Total number of sessions opened",
			ConstLabels: config.ConstLabels,
		}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_dropped_total",
			Help:        "Total inbound frames discarded, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
	}

	if g, ok := config.Registry.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Middleware times and counts every service request.
func (m *Metrics) Middleware() core.Middleware {
	return func(next core.RequestHandler) core.RequestHandler {
		return func(ctx context.Context, req *core.Request) error {
			service := req.Service
			if service == "" {
				service = "unknown"
			}

			start := time.Now()
			err := next(ctx, req)
			m.dispatchDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())

			status := "success"
			if err != nil {
				status = "error"
				m.requestErrors.WithLabelValues(service, categorizeError(err)).Inc()
			}
			m.requestsTotal.WithLabelValues(service, status).Inc()
			return err
		}
	}
}

// categorizeError maps an error to a low-cardinality label.
func categorizeError(err error) string {
	var ce *protocol.CodecError
	switch {
	case core.IsFatal(err):
		return "fatal"
	case errors.As(err, &ce):
		return "decode"
	case core.StoreKind(err) == core.StoreNotFound:
		return "not_found"
	case errors.Is(err, core.ErrPoolFull), errors.Is(err, core.ErrPoolClosed):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

// SessionOpened implements server.SessionObserver.
func (m *Metrics) SessionOpened(*server.Session) {
	m.activeSessions.Inc()
	m.sessionsTotal.Inc()
}

// SessionClosed implements server.SessionObserver.
func (m *Metrics) SessionClosed(*server.Session) {
	m.activeSessions.Dec()
}

// MessageDropped implements server.SessionObserver.
func (m *Metrics) MessageDropped(_ *server.Session, reason server.DropReason) {
	m.messagesDropped.WithLabelValues(string(reason)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

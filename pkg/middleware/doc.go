// Package middleware provides observability for apid service requests.
//
// This package includes:
//   - OpenTelemetry tracing middleware
//   - Prometheus metrics middleware and session observer
//
// Both plug into the server configuration:
//
//	metrics := middleware.NewMetrics(middleware.WithNamespace("apid"))
//	config := server.DefaultServerConfig()
//	config.Middleware = []core.Middleware{
//	    middleware.OpenTelemetry(),
//	    metrics.Middleware(),
//	}
//	config.Observers = []server.SessionObserver{metrics}
//	config.MetricsHandler = metrics.Handler()
//
// # OpenTelemetry Middleware
//
// Every service request gets a server span named after the service, with
// the session, service, object and request ids as attributes. The span's
// context is handed to the service, so store calls a service makes with it
// join the trace.
//
// # Prometheus Metrics
//
// Metrics measure request dispatch, not completion: services answer from
// worker pools after OnRequest returns.
//   - apid_requests_total
//   - apid_request_dispatch_seconds
//   - apid_request_errors_total
//   - apid_sessions_active and apid_sessions_total
//   - apid_messages_dropped_total
package middleware

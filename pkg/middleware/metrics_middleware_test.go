package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
	"github.com/vango-dev/apid/pkg/server"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetricsMiddleware_RecordsSuccessAndError(t *testing.T) {
	t.Run("success increments success counter and duration", func(t *testing.T) {
		m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
		h := m.Middleware()(handlerReturning(nil))

		if err := h(t.Context(), newRequest(t, "settings", protocol.Empty{})); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := metricCounterValue(t, m.requestsTotal.WithLabelValues("settings", "success")); got != 1 {
			t.Fatalf("requests_total(success)=%v, want 1", got)
		}
		if got := metricCounterValue(t, m.requestsTotal.WithLabelValues("settings", "error")); got != 0 {
			t.Fatalf("requests_total(error)=%v, want 0", got)
		}
		if got := metricHistogramCount(t, m.dispatchDuration.WithLabelValues("settings")); got != 1 {
			t.Fatalf("request_dispatch_seconds count=%d, want 1", got)
		}
	})

	t.Run("error increments error counter and categorizes", func(t *testing.T) {
		m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
		h := m.Middleware()(handlerReturning(protocol.InvalidTag("SettingsRequest", 99)))

		if err := h(t.Context(), newRequest(t, "settings", protocol.Empty{})); err == nil {
			t.Fatal("expected error to propagate")
		}

		if got := metricCounterValue(t, m.requestsTotal.WithLabelValues("settings", "error")); got != 1 {
			t.Fatalf("requests_total(error)=%v, want 1", got)
		}
		if got := metricCounterValue(t, m.requestErrors.WithLabelValues("settings", "decode")); got != 1 {
			t.Fatalf("request_errors_total(decode)=%v, want 1", got)
		}
	})
}

func TestMetricsMiddleware_EmptyServiceIsUnknown(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	h := m.Middleware()(handlerReturning(nil))

	if err := h(t.Context(), newRequest(t, "", protocol.Empty{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := metricCounterValue(t, m.requestsTotal.WithLabelValues("unknown", "success")); got != 1 {
		t.Fatalf("requests_total(unknown,success)=%v, want 1", got)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{core.ErrIDSpaceExhausted, "fatal"},
		{fmt.Errorf("wrapped: %w", core.ErrPoisoned), "fatal"},
		{protocol.InvalidTag("x", 1), "decode"},
		{fmt.Errorf("get: %w", core.NotFound("settings.get", errors.New("no rows"))), "not_found"},
		{core.ErrPoolFull, "unavailable"},
		{fmt.Errorf("submit: %w", core.ErrPoolClosed), "unavailable"},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tc := range tests {
		if got := categorizeError(tc.err); got != tc.want {
			t.Errorf("categorizeError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestMetricsSessionObserver(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	var obs server.SessionObserver = m

	s1 := server.NewSession(1, nil, server.SessionDeps{Logger: testLogger()})
	s2 := server.NewSession(2, nil, server.SessionDeps{Logger: testLogger()})
	obs.SessionOpened(s1)
	obs.SessionOpened(s2)
	obs.SessionClosed(s1)
	obs.MessageDropped(s2, server.DropDecode)
	obs.MessageDropped(s2, server.DropDecode)
	obs.MessageDropped(s2, server.DropUnknownService)

	if got := metricGaugeValue(t, m.activeSessions); got != 1 {
		t.Errorf("sessions_active=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.sessionsTotal); got != 2 {
		t.Errorf("sessions_total=%v, want 2", got)
	}
	if got := metricCounterValue(t, m.messagesDropped.WithLabelValues("decode")); got != 2 {
		t.Errorf("messages_dropped_total(decode)=%v, want 2", got)
	}
	if got := metricCounterValue(t, m.messagesDropped.WithLabelValues("unknown_service")); got != 1 {
		t.Errorf("messages_dropped_total(unknown_service)=%v, want 1", got)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))
	m.SessionOpened(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), "test_sessions_active 1") {
		t.Errorf("metrics output missing test_sessions_active:\n%s", body)
	}
}

func TestNewMetricsTwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(WithRegistry(reg))

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewMetrics(WithRegistry(reg))
}

package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/model"
)

func newCollector(t *testing.T) (*LinkCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("NewLinkCollector: %v", err)
	}
	return c, reg
}

func TestLinkMetrics(t *testing.T) {
	c, reg := newCollector(t)

	c.ObserveMeasurement(model.NewMeasurement(1, -63, 42, time.Unix(0, 0)))
	c.ObserveMeasurement(model.NewMeasurement(2, -70, 0, time.Unix(1, 0)))
	c.AddPacketsLost(2)
	c.AddPacketsLost(0)
	c.ObserveTransition(model.Transition{To: model.StateConnected})
	c.ObserveTransition(model.Transition{To: model.StateDisconnected})
	c.ObserveWarning(model.LevelCritical, model.SourceHybrid)
	c.ObserveWarning(model.LevelNone, model.SourceRules)
	c.IncMalformed("uplink")
	c.SetModelLoaded(true)

	if got := testutil.ToFloat64(c.Measurements); got != 2 {
		t.Fatalf("measurements = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.SignalStrength); got != -70 {
		t.Fatalf("signal gauge = %v, want -70", got)
	}
	if got := testutil.ToFloat64(c.PacketsLost); got != 2 {
		t.Fatalf("packets lost = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Disconnects); got != 1 {
		t.Fatalf("disconnects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.LinkConnected); got != 0 {
		t.Fatalf("link connected = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.Warnings.WithLabelValues("CRITICAL", "hybrid")); got != 1 {
		t.Fatalf("warnings{CRITICAL,hybrid} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.MalformedMessages.WithLabelValues("uplink")); got != 1 {
		t.Fatalf("malformed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ModelLoaded); got != 1 {
		t.Fatalf("model loaded = %v, want 1", got)
	}
	// rtt 0 is not observed.
	if count := histogramSampleCount(t, reg, "linkwatch_rtt_milliseconds", nil); count != 1 {
		t.Fatalf("rtt sample_count = %d, want 1", count)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *LinkCollector
	c.ObserveMeasurement(model.Measurement{})
	c.AddPacketsLost(3)
	c.ObserveTransition(model.Transition{})
	c.ObserveWarning(model.LevelWarning, model.SourceRules)
	c.ObservePrediction(time.Millisecond)
	c.IncMalformed("relay")
	c.IncUplinkReconnects()
	c.SetUplinkConnected(true)
	c.IncStationReport("data")
	c.SetMonitorClients(2)
	c.SetDashboardClients(1)
	c.SetModelLoaded(false)
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("first NewLinkCollector: %v", err)
	}
	b, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("second NewLinkCollector: %v", err)
	}
	a.Measurements.Inc()
	if got := testutil.ToFloat64(b.Measurements); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	c, reg := newCollector(t)

	interceptor := c.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("requests{OK} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("requests{NotFound} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "linkwatch_grpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 2 {
		t.Fatalf("duration sample_count = %d, want 2", count)
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/grpc.health.v1.Health/Watch", "Health", "Watch"},
		{"", "unknown", "unknown"},
		{"nomethod", "unknown", "unknown"},
		{"/svc/", "svc", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.method {
			t.Fatalf("SplitMethod(%q) = %q,%q want %q,%q", tc.in, s, m, tc.service, tc.method)
		}
	}
}

func TestMetricsHandlerExposesLinkMetrics(t *testing.T) {
	c, _ := newCollector(t)
	c.SetMonitorClients(3)
	c.IncStationReport("probe")

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"linkwatch_monitor_clients 3",
		`linkwatch_station_reports_total{kind="probe"} 1`,
		"linkwatch_link_connected",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestInitTracingDisabledAndStdout(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing(disabled): %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}

	var buf bytes.Buffer
	shutdown, err = InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "stdout", Writer: &buf}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing(stdout): %v", err)
	}
	_, span := Tracer().Start(context.Background(), "test-span")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, logging.Noop())
	if !strings.Contains(buf.String(), "test-span") {
		t.Fatalf("stdout exporter did not record span: %q", buf.String())
	}

	// Leave the global provider in a neutral state for other tests.
	_, _ = InitTracing(context.Background(), TracingConfig{}, logging.Noop())

	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, logging.Noop()); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

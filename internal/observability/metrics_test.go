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
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/arhunt/model"
)

func TestObservePlacementRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHuntCollector(reg)
	if err != nil {
		t.Fatalf("NewHuntCollector: %v", err)
	}

	collector.ObservePlacement("placed", 2*time.Millisecond)
	collector.ObservePlacement("limit_reached", time.Millisecond)
	collector.ObservePlacement("placed", time.Millisecond)

	if got := testutil.ToFloat64(collector.PlacementAttempts.WithLabelValues("placed")); got != 2 {
		t.Fatalf("placed attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.PlacementAttempts.WithLabelValues("limit_reached")); got != 1 {
		t.Fatalf("limit_reached attempts = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "hunt_placement_duration_seconds", map[string]string{"outcome": "placed"}); count != 2 {
		t.Fatalf("placement duration sample_count = %d, want 2", count)
	}
}

func TestSceneGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHuntCollector(reg)
	if err != nil {
		t.Fatalf("NewHuntCollector: %v", err)
	}

	collector.SetPlacedObjects(4)
	collector.SetFrameState(model.FrameDegraded)
	collector.IncDiscoveries()
	collector.IncRemovals("discovered")
	collector.AddVisibilityEntries(3)
	collector.AddVisibilityEntries(0)

	if got := testutil.ToFloat64(collector.PlacedObjects); got != 4 {
		t.Fatalf("placed objects = %v, want 4", got)
	}
	if got := testutil.ToFloat64(collector.FrameState); got != 2 {
		t.Fatalf("frame state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Discoveries); got != 1 {
		t.Fatalf("discoveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Removals.WithLabelValues("discovered")); got != 1 {
		t.Fatalf("removals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.VisibilityEntries); got != 3 {
		t.Fatalf("visibility entries = %v, want 3", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *HuntCollector
	c.ObservePlacement("placed", time.Millisecond)
	c.ObservePass("placement", time.Millisecond)
	c.SetPlacedObjects(1)
	c.SetFrameState(model.FrameAccurate)
	c.IncDiscoveries()
	c.IncRemovals("sweep")
	c.AddVisibilityEntries(1)
	c.ObserveHTTP("GET", "/frame", 200, time.Millisecond)
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewHuntCollector(reg)
	if err != nil {
		t.Fatalf("NewHuntCollector: %v", err)
	}
	second, err := NewHuntCollector(reg)
	if err != nil {
		t.Fatalf("second NewHuntCollector: %v", err)
	}
	first.IncDiscoveries()
	if got := testutil.ToFloat64(second.Discoveries); got != 1 {
		t.Fatalf("shared discoveries = %v, want 1", got)
	}
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHuntCollector(reg)
	if err != nil {
		t.Fatalf("NewHuntCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "not ready")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("grpc OK requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "Unavailable")); got != 1 {
		t.Fatalf("grpc Unavailable requests = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "hunt_grpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 2 {
		t.Fatalf("grpc duration sample_count = %d, want 2", count)
	}
}

func TestMetricsHandlerExposesHuntMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHuntCollector(reg)
	if err != nil {
		t.Fatalf("NewHuntCollector: %v", err)
	}
	collector.SetPlacedObjects(3)
	collector.ObservePass("viewport", time.Millisecond)
	collector.ObserveHTTP("GET", "/frame", 200, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"hunt_placed_objects 3",
		"hunt_pass_duration_seconds",
		"hunt_http_requests_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := map[string][2]string{
		"":                             {"unknown", "unknown"},
		"/grpc.health.v1.Health/Check": {"Health", "Check"},
		"Check":                        {"unknown", "unknown"},
	}
	for in, want := range cases {
		s, m := SplitMethod(in)
		if s != want[0] || m != want[1] {
			t.Fatalf("SplitMethod(%q) = %q,%q, want %q,%q", in, s, m, want[0], want[1])
		}
	}
}

func TestStartSpanWithNoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test", "c1", attribute.Bool("x", true))
	defer span.End()
	if ctx == nil {
		t.Fatalf("StartSpan returned nil context")
	}
}

func TestInitTracingExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "huntd-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := StartSpan(context.Background(), "placement.Place", "chest-7")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	out := buf.String()
	if !strings.Contains(out, "placement.Place") || !strings.Contains(out, "chest-7") {
		t.Fatalf("exported spans missing name or candidate id:\n%s", out)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown exporter")
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

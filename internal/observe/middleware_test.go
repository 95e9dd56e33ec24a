package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup installs an in-memory tracer as the global provider, so tests
// using it do not run in parallel.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func spanAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRoutePrefix(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"/":                     "/",
		"/mcp":                  "/mcp",
		"/mcp/status":           "/mcp/status",
		"/tools/get_feature":    "/tools/get_feature",
		"/a/b/c/d":              "/a/b",
		"/.well-known/mcp.json": "/.well-known/mcp.json",
	}
	for path, want := range tests {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if got := RoutePrefix(r); got != want {
			t.Errorf("RoutePrefix(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m, WithRouteLabel(func(*http.Request) string { return "/tools/{name}" }))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }))

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/tools/get_feature", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "POST /tools/{name}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, ok := spanAttr(spans[0].Attributes, "http.route"); !ok || v.AsString() != "/tools/{name}" {
		t.Errorf("http.route = %v", v)
	}
	if v, ok := spanAttr(spans[0].Attributes, "http.response.status_code"); !ok || v.AsInt64() != 404 {
		t.Errorf("status attribute = %v", v)
	}
}

func TestMiddleware_RequestAndSessionIDs(t *testing.T) {
	m, _, exp := testSetup(t)
	// The inner handler generates the request id, like the HTTP front does.
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(RequestIDHeader, "req-42")
		w.Header().Set(MCPSessionHeader, "sess-7")
		w.WriteHeader(http.StatusOK)
	}))

	serve(h, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	if v, ok := spanAttr(spans[0].Attributes, "request.id"); !ok || v.AsString() != "req-42" {
		t.Errorf("request.id = %v", v)
	}
	if v, ok := spanAttr(spans[0].Attributes, "mcp.session_id"); !ok || v.AsString() != "sess-7" {
		t.Errorf("mcp.session_id = %v", v)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	serve(h, httptest.NewRequest(http.MethodGet, "/search/features/extra", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "osngd.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %+v", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("count = %d", dp.Count)
	}
	if v, ok := dp.Attributes.Value("route"); !ok || v.AsString() != "/search/features" {
		t.Errorf("route = %v", v)
	}
	if v, ok := dp.Attributes.Value("status"); !ok || v.AsInt64() != 401 {
		t.Errorf("status = %v", v)
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var captured string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/mcp/tools", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := serve(h, req)

	if captured != traceID {
		t.Errorf("correlation id in handler = %q", captured)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q", got)
	}
}

func TestMiddleware_FlushReachesWriter(t *testing.T) {
	m, _, _ := testSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("event: ping\n\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush: %v", err)
		}
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	if !rec.Flushed {
		t.Error("response was not flushed through the recorder")
	}
}

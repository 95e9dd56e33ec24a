package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// meters is a Metrics wired to a manual reader.
type meters struct {
	*Metrics
	reader *sdkmetric.ManualReader
}

func newMeters(t *testing.T) meters {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return meters{Metrics: m, reader: reader}
}

func (m meters) snapshot(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i, met := range scope.Metrics {
			if met.Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

// dataOf returns the aggregation recorded under name, failing the test when
// it is missing or of another kind.
func dataOf[T metricdata.Aggregation](t *testing.T, rm metricdata.ResourceMetrics, name string) T {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("no metric %q", name)
	}
	data, ok := met.Data.(T)
	if !ok {
		t.Fatalf("metric %q has aggregation %T", name, met.Data)
	}
	return data
}

func total(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var n int64
	for _, dp := range dataOf[metricdata.Sum[int64]](t, rm, name).DataPoints {
		n += dp.Value
	}
	return n
}

func TestRecordToolCall(t *testing.T) {
	t.Parallel()
	m := newMeters(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "search_features", "ok", 120*time.Millisecond)
	m.RecordToolCall(ctx, "search_features", "INVALID_INPUT", 2*time.Millisecond)
	m.RecordToolCall(ctx, "list_collections", "ok", 800*time.Millisecond)

	rm := m.snapshot(t)
	if got := total(t, rm, "osngd.tool.calls"); got != 3 {
		t.Errorf("tool calls = %d, want 3", got)
	}
	var observed uint64
	for _, dp := range dataOf[metricdata.Histogram[float64]](t, rm, "osngd.tool.duration").DataPoints {
		observed += dp.Count
	}
	if observed != 3 {
		t.Errorf("duration observations = %d, want 3", observed)
	}
}

func TestRecordUpstreamAndRetry(t *testing.T) {
	t.Parallel()
	m := newMeters(t)
	ctx := context.Background()

	m.RecordUpstream(ctx, "collection_items", "200", time.Second)
	m.RecordUpstream(ctx, "collection_items", "error", time.Second)
	m.RecordRetry(ctx, "collection_items")

	rm := m.snapshot(t)
	if got := total(t, rm, "osngd.upstream.requests"); got != 2 {
		t.Errorf("upstream requests = %d, want 2", got)
	}
	if got := total(t, rm, "osngd.upstream.retries"); got != 1 {
		t.Errorf("upstream retries = %d, want 1", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	t.Parallel()
	m := newMeters(t)
	m.RecordBreakerTransition(context.Background(), "ngd", "open")

	rm := m.snapshot(t)
	if got := total(t, rm, "osngd.breaker.transitions"); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestRecordNetworkSize(t *testing.T) {
	t.Parallel()
	m := newMeters(t)
	ctx := context.Background()

	m.RecordNetworkSize(ctx, 10, 7)
	m.RecordNetworkSize(ctx, 4, 3)

	rm := m.snapshot(t)
	tests := []struct {
		name string
		want int64
	}{
		{"osngd.routing.nodes", 4},
		{"osngd.routing.edges", 3},
	}
	for _, tt := range tests {
		g := dataOf[metricdata.Gauge[int64]](t, rm, tt.name)
		if len(g.DataPoints) != 1 || g.DataPoints[0].Value != tt.want {
			t.Errorf("%s = %+v, want last value %d", tt.name, g.DataPoints, tt.want)
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics is not shared")
	}
}

// Package observe holds the telemetry shared by the MCP server, the upstream
// client and the REST companion. Instruments go through the OpenTelemetry
// API; [InitProvider] bridges them to Prometheus for GET /metrics and sets
// up tracing. Spans and slog records are correlated by trace id.
//
// Production code uses [DefaultMetrics]. Tests build their own instruments
// with [NewMetrics] over a private meter provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/osngd"

// Metrics is the set of osngd instruments. Safe for concurrent use.
type Metrics struct {
	// ToolDuration tracks end-to-end tool latency including interceptors.
	ToolDuration metric.Float64Histogram

	// ToolCalls counts tool invocations. Attributes: tool, status
	// ("ok" or an envelope error code).
	ToolCalls metric.Int64Counter

	// RateLimited counts calls rejected by the sliding-window limiter.
	// Attribute: tool.
	RateLimited metric.Int64Counter

	// GateBlocked counts calls rejected because the workflow context was not
	// loaded yet. Attribute: tool.
	GateBlocked metric.Int64Counter

	// UpstreamDuration tracks a single upstream round trip (one attempt).
	// Attribute: endpoint.
	UpstreamDuration metric.Float64Histogram

	// UpstreamRequests counts upstream attempts. Attributes: endpoint, status
	// (HTTP status code or "error").
	UpstreamRequests metric.Int64Counter

	// UpstreamRetries counts retried attempts. Attribute: endpoint.
	UpstreamRetries metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// name, to.
	BreakerTransitions metric.Int64Counter

	// NetworkNodes and NetworkEdges report the size of the current network.
	NetworkNodes metric.Int64Gauge
	NetworkEdges metric.Int64Gauge

	// HTTPRequestDuration is the front-door latency. Attributes: method,
	// route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds. The upstream pacer adds 0.7s per request, so
// bulk calls can take close to a minute.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics registers every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolDuration, err = m.Float64Histogram("osngd.tool.duration",
		metric.WithDescription("Latency of MCP tool calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UpstreamDuration, err = m.Float64Histogram("osngd.upstream.duration",
		metric.WithDescription("Latency of a single upstream API attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("osngd.tool.calls",
		metric.WithDescription("MCP tool calls by tool and outcome code."),
	); err != nil {
		return nil, err
	}
	if met.RateLimited, err = m.Int64Counter("osngd.tool.rate_limited",
		metric.WithDescription("Tool calls rejected by the per-client rate limit."),
	); err != nil {
		return nil, err
	}
	if met.GateBlocked, err = m.Int64Counter("osngd.tool.gate_blocked",
		metric.WithDescription("Tool calls rejected before the workflow context was loaded."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamRequests, err = m.Int64Counter("osngd.upstream.requests",
		metric.WithDescription("Upstream API attempts by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamRetries, err = m.Int64Counter("osngd.upstream.retries",
		metric.WithDescription("Retried upstream API attempts by endpoint."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("osngd.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}

	if met.NetworkNodes, err = m.Int64Gauge("osngd.routing.nodes",
		metric.WithDescription("Nodes in the current routing network."),
	); err != nil {
		return nil, err
	}
	if met.NetworkEdges, err = m.Int64Gauge("osngd.routing.edges",
		metric.WithDescription("Edges in the current routing network."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("osngd.http.request.duration",
		metric.WithDescription("Latency of HTTP requests by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// DefaultMetrics returns the process-wide instruments, registered on the
// global meter provider at first use. Call [InitProvider] before it.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: register instruments: " + err.Error())
	}
	return m
})

// RecordToolCall records one finished tool call.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
	m.ToolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("tool", tool),
	))
}

// RecordUpstream records one upstream attempt.
func (m *Metrics) RecordUpstream(ctx context.Context, endpoint, status string, d time.Duration) {
	m.UpstreamRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	))
	m.UpstreamDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordRetry records one retried upstream attempt.
func (m *Metrics) RecordRetry(ctx context.Context, endpoint string) {
	m.UpstreamRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("to", to),
	))
}

// RecordNetworkSize publishes the size of a freshly built routing network.
func (m *Metrics) RecordNetworkSize(ctx context.Context, nodes, edges int) {
	m.NetworkNodes.Record(ctx, int64(nodes))
	m.NetworkEdges.Record(ctx, int64(edges))
}

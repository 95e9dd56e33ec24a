package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Header names read by [Middleware].
const (
	RequestIDHeader  = "X-Request-ID"
	MCPSessionHeader = "Mcp-Session-Id"
)

// statusRecorder captures the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streamed MCP responses are not
// buffered.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets [http.ResponseController] reach the wrapped writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

type middlewareConfig struct {
	route func(*http.Request) string
	quiet map[string]bool
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middlewareConfig)

// WithRouteLabel sets how a request maps to the "route" attribute of spans
// and metrics. Return a small fixed set of values; raw paths carry ids.
func WithRouteLabel(fn func(*http.Request) string) MiddlewareOption {
	return func(c *middlewareConfig) { c.route = fn }
}

// WithQuietRoutes logs requests for these routes at debug level only.
// Default: /health, /healthz, /readyz and /metrics.
func WithQuietRoutes(routes ...string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.quiet = make(map[string]bool, len(routes))
		for _, r := range routes {
			c.quiet[r] = true
		}
	}
}

// RoutePrefix is the default route label: at most the first two segments of
// the request path, e.g. "/mcp/status" for "/mcp/status" and "/a/b" for
// "/a/b/c".
func RoutePrefix(r *http.Request) string {
	p := r.URL.Path
	if p == "" || p == "/" {
		return "/"
	}
	parts := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

// Middleware traces and measures HTTP requests. It continues a W3C trace from
// the request headers, sets X-Correlation-ID from the trace id, records
// [Metrics.HTTPRequestDuration] by route and logs completion with the
// request id and MCP session id when present.
//
// The request id is read from the response header so that an inner handler
// may generate it.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if m == nil {
		m = DefaultMetrics()
	}
	cfg := middlewareConfig{route: RoutePrefix}
	WithQuietRoutes("/health", "/healthz", "/readyz", "/metrics")(&cfg)
	for _, o := range opts {
		o(&cfg)
	}
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := cfg.route(r)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			duration := time.Since(start)

			reqID := w.Header().Get(RequestIDHeader)
			if reqID == "" {
				reqID = r.Header.Get(RequestIDHeader)
			}
			session := r.Header.Get(MCPSessionHeader)
			if session == "" {
				session = w.Header().Get(MCPSessionHeader)
			}

			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", rec.statusCode),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))
			if reqID != "" {
				span.SetAttributes(attribute.String("request.id", reqID))
			}
			if session != "" {
				span.SetAttributes(attribute.String("mcp.session_id", session))
			}

			level := slog.LevelInfo
			if cfg.quiet[route] {
				level = slog.LevelDebug
			}
			attrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			}
			if reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if session != "" {
				attrs = append(attrs, slog.String("mcp_session", session))
			}
			slog.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}

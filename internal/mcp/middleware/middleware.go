// Package middleware wraps tool handlers in a chain of interceptors that run
// on every tool call: error enveloping, panic recovery, tracing and metrics,
// per-client rate limiting, argument screening and workflow gating.
//
// The chain is assembled once at registration time:
//
//	h := middleware.Chain(tool,
//	    middleware.Envelope(ngd.Classify),
//	    middleware.Observe(metrics, stats, ngd.Classify),
//	    middleware.Recover(),
//	    middleware.Deadline(),
//	    middleware.RateLimit(limiter, metrics),
//	    middleware.Guard(guard.Default()),
//	    middleware.Gate(wf, metrics),
//	)
//
// The first interceptor is the outermost.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/guard"
	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/observe"
	"github.com/MrWong99/osngd/internal/ratelimit"
)

// Handler is the signature shared by tool handlers and wrapped handlers.
type Handler func(ctx context.Context, args string) (string, error)

// Interceptor wraps next for tool t.
type Interceptor func(t tools.Tool, next Handler) Handler

// Chain wraps t.Handler with interceptors, the first one outermost.
func Chain(t tools.Tool, interceptors ...Interceptor) Handler {
	h := Handler(t.Handler)
	for i := len(interceptors) - 1; i >= 0; i-- {
		h = interceptors[i](t, h)
	}
	return h
}

// ─────────────────────────────────────────────────────────────────────────────
// Client identity
// ─────────────────────────────────────────────────────────────────────────────

type clientKey struct{}

// WithClient returns a copy of ctx carrying the rate-limit key of the caller.
func WithClient(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientKey{}, id)
}

// Client returns the key stored by [WithClient], or "anonymous".
func Client(ctx context.Context) string {
	if id, ok := ctx.Value(clientKey{}).(string); ok && id != "" {
		return id
	}
	return "anonymous"
}

// ─────────────────────────────────────────────────────────────────────────────
// Envelope
// ─────────────────────────────────────────────────────────────────────────────

// Failure is returned by handlers wrapped with [Envelope]. The JSON of
// Envelope is also returned as the handler's result text.
type Failure struct {
	Envelope envelope.Envelope
}

func (f *Failure) Error() string { return f.Envelope.Message }

// Envelope converts every error from the inner chain into an [envelope.Envelope].
// The wrapped handler returns the envelope JSON together with a [*Failure].
func Envelope(classifiers ...envelope.Classifier) Interceptor {
	return func(t tools.Tool, next Handler) Handler {
		return func(ctx context.Context, args string) (string, error) {
			out, err := next(ctx, args)
			if err == nil {
				return out, nil
			}
			env := envelope.FromError(t.Definition.Name, err, classifiers...)
			return env.JSON(), &Failure{Envelope: env}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Recover
// ─────────────────────────────────────────────────────────────────────────────

// Recover turns a panic inside the chain into a GENERAL_ERROR.
func Recover() Interceptor {
	return func(t tools.Tool, next Handler) Handler {
		return func(ctx context.Context, args string) (out string, err error) {
			defer func() {
				if r := recover(); r != nil {
					observe.Logger(ctx).Error("tool panicked",
						"tool", t.Definition.Name, "panic", r, "stack", string(debug.Stack()))
					out = ""
					err = envelope.Errorf(envelope.CodeGeneral, "Internal error in %s", t.Definition.Name)
				}
			}()
			return next(ctx, args)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Observe
// ─────────────────────────────────────────────────────────────────────────────

// Recorder receives per-tool latency samples.
type Recorder interface {
	Record(tool string, d time.Duration, isError bool)
}

// Observe wraps each call in a span, records metrics and logs the outcome.
// rec may be nil.
func Observe(m *observe.Metrics, rec Recorder, classifiers ...envelope.Classifier) Interceptor {
	return func(t tools.Tool, next Handler) Handler {
		name := t.Definition.Name
		return func(ctx context.Context, args string) (string, error) {
			ctx, span := observe.StartSpan(observe.WithTool(ctx, name), "tool."+name)
			defer span.End()
			span.SetAttributes(attribute.String("tool", name), attribute.String("client", Client(ctx)))

			start := time.Now()
			out, err := next(ctx, args)
			d := time.Since(start)

			status := "ok"
			log := observe.Logger(ctx)
			if err != nil {
				code := envelope.FromError(name, err, classifiers...).ErrorCode
				status = string(code)
				span.SetStatus(codes.Error, err.Error())
				log.Warn("tool call failed", "code", status, "duration", d, "err", err)
			} else {
				log.Debug("tool call", "duration", d)
			}
			m.RecordToolCall(ctx, name, status, d)
			if rec != nil {
				rec.Record(name, d, err != nil)
			}
			return out, err
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Deadline
// ─────────────────────────────────────────────────────────────────────────────

// Deadline bounds each call by the tool's DeclaredMax.
func Deadline() Interceptor {
	return func(t tools.Tool, next Handler) Handler {
		if t.DeclaredMax <= 0 {
			return next
		}
		limit := time.Duration(t.DeclaredMax) * time.Millisecond
		return func(ctx context.Context, args string) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()
			return next(ctx, args)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// RateLimit
// ─────────────────────────────────────────────────────────────────────────────

// RateLimit rejects calls above the per-client ceiling of l.
func RateLimit(l *ratelimit.Limiter, m *observe.Metrics) Interceptor {
	return func(t tools.Tool, next Handler) Handler {
		return func(ctx context.Context, args string) (string, error) {
			ok, retry := l.Allow(Client(ctx))
			if !ok {
				m.RateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", t.Definition.Name)))
				secs := int(math.Ceil(retry.Seconds()))
				return "", envelope.New(envelope.CodeRateLimit,
					fmt.Sprintf("Rate limit exceeded: %d requests per %s. Retry in %d seconds.", l.Limit(), l.Window(), secs),
					envelope.WithDetails(map[string]any{"retry_after_seconds": secs, "limit": l.Limit()}))
			}
			return next(ctx, args)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Guard
// ─────────────────────────────────────────────────────────────────────────────

// Guard screens string arguments for prompt injection and the filter
// argument for disallowed CQL. Rejected calls never reach the handler.
// Arguments that are not a JSON object are passed on for the handler to
// reject.
func Guard(g *guard.Guard) Interceptor {
	return func(_ tools.Tool, next Handler) Handler {
		return func(ctx context.Context, args string) (string, error) {
			var m map[string]any
			if json.Unmarshal([]byte(args), &m) == nil && m != nil {
				if err := g.CheckArguments(m); err != nil {
					return "", err
				}
				if f, ok := m["filter"].(string); ok {
					if err := g.CheckFilter(f); err != nil {
						return "", err
					}
				}
			}
			return next(ctx, args)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Gate
// ─────────────────────────────────────────────────────────────────────────────

// Readiness reports whether the workflow context has been loaded.
type Readiness interface {
	Ready() bool
}

// Gate blocks gated tools until r is ready.
func Gate(r Readiness, m *observe.Metrics) Interceptor {
	return func(t tools.Tool, next Handler) Handler {
		if !t.Definition.Gated {
			return next
		}
		return func(ctx context.Context, args string) (string, error) {
			if !r.Ready() {
				m.GateBlocked.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", t.Definition.Name)))
				return "", envelope.WorkflowRequired(t.Definition.Name)
			}
			return next(ctx, args)
		}
	}
}

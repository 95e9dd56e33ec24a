// Package app wires the osngd subsystems into a running MCP server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the configured transport until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHTTPClient,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/osngd/internal/config"
	"github.com/MrWong99/osngd/internal/guard"
	"github.com/MrWong99/osngd/internal/health"
	"github.com/MrWong99/osngd/internal/httpserver"
	"github.com/MrWong99/osngd/internal/mcp/server"
	"github.com/MrWong99/osngd/internal/mcp/tools/ngdtool"
	"github.com/MrWong99/osngd/internal/mcp/tools/prompttool"
	"github.com/MrWong99/osngd/internal/mcp/tools/routingtool"
	"github.com/MrWong99/osngd/internal/ngd"
	"github.com/MrWong99/osngd/internal/observe"
	"github.com/MrWong99/osngd/internal/prompts"
	"github.com/MrWong99/osngd/internal/ratelimit"
	"github.com/MrWong99/osngd/internal/routing"
	"github.com/MrWong99/osngd/internal/workflow"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	level      *slog.LevelVar
	metrics    *observe.Metrics
	httpClient *http.Client

	// Subsystems, initialised in New.
	upstream *ngd.Client
	workflow *workflow.Context
	routing  *routing.Service
	limiter  *ratelimit.Limiter
	mcp      *server.Server
	front    *httpserver.Server

	mu      sync.Mutex
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLevel lets config reloads change the log level of the caller's handler.
func WithLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHTTPClient replaces the HTTP client used for upstream requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// New creates an App from a validated config.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(SlogLevel(cfg.Server.LogLevel))
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.initUpstream()

	a.workflow = workflow.New(a.upstream)
	a.routing = routing.NewService(a.upstream, a.metrics)
	a.limiter = ratelimit.New(cfg.RateLimit.RequestsPerMinute)

	g, err := guard.New()
	if err != nil {
		return nil, fmt.Errorf("app: load guard patterns: %w", err)
	}
	catalog, err := prompts.Load()
	if err != nil {
		return nil, fmt.Errorf("app: load prompt templates: %w", err)
	}

	a.mcp = server.New(server.Deps{
		Metrics:     a.metrics,
		Limiter:     a.limiter,
		Guard:       g,
		Workflow:    a.workflow,
		Catalog:     catalog,
		Docs:        a.upstream,
		DocsBaseURL: cfg.Upstream.DocsBaseURL,
	},
		ngdtool.Tools(a.upstream, a.workflow),
		routingtool.Tools(a.routing),
		prompttool.Tools(catalog),
	)

	checks := health.New(
		health.APIKey(a.upstream.APIKey),
		health.Breaker(a.upstream.Breaker()),
		health.Loaded("workflow_context", a.workflow.Ready),
	)
	a.front = httpserver.New(a.mcp, checks, httpserver.NewTokens(cfg.Auth.BearerTokens...), httpserver.Options{
		Addr:           cfg.Server.ListenAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		CertFile:       tlsCert(cfg),
		KeyFile:        tlsKey(cfg),
		Metrics:        a.metrics,
		Ready:          a.workflow.Ready,
	})

	slog.Info("app initialised",
		"transport", cfg.Server.Transport,
		"tools", len(a.mcp.ToolNames()),
		"rate_limit_per_minute", a.limiter.Limit(),
	)
	return a, nil
}

func (a *App) initUpstream() {
	up := a.cfg.Upstream
	var opts []ngd.Option
	opts = append(opts, ngd.WithMetrics(a.metrics))
	if a.httpClient != nil {
		opts = append(opts, ngd.WithHTTPClient(a.httpClient))
	}
	a.upstream = ngd.New(ngd.Config{
		APIKey:              up.APIKey,
		NGDBaseURL:          up.NGDBaseURL,
		LinksBaseURL:        up.LinksBaseURL,
		PlacesBaseURL:       up.PlacesBaseURL,
		DocsBaseURL:         up.DocsBaseURL,
		RequestDelay:        up.RequestDelay,
		Timeout:             up.Timeout,
		MaxRetries:          up.MaxRetries,
		RetryBackoff:        up.RetryBackoff,
		BreakerMaxFailures:  up.Breaker.MaxFailures,
		BreakerResetTimeout: up.Breaker.ResetTimeout,
	}, opts...)
}

// MCP returns the assembled MCP server.
func (a *App) MCP() *server.Server { return a.mcp }

// Handler returns the HTTP handler of the streamable-http transport.
func (a *App) Handler() http.Handler { return a.front.Handler() }

// Tokens returns the live bearer token set.
func (a *App) Tokens() *httpserver.Tokens { return a.front.Tokens() }

// Limiter returns the per-client tool call limiter.
func (a *App) Limiter() *ratelimit.Limiter { return a.limiter }

// Level returns the log level variable updated by config reloads.
func (a *App) Level() *slog.LevelVar { return a.level }

// Run serves the configured transport until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	switch a.cfg.Server.Transport {
	case config.TransportStdio:
		slog.Info("serving MCP over stdio")
		if err := a.mcp.RunStdio(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: stdio: %w", err)
		}
		return nil
	default:
		return a.front.ListenAndServe(ctx)
	}
}

// Watch hot-reloads path. The watcher is stopped by Shutdown.
func (a *App) Watch(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, a.Reload, opts...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.mu.Lock()
	a.closers = append(a.closers, func() error { w.Stop(); return nil })
	a.mu.Unlock()
	slog.Info("watching config for changes", "path", path)
	return nil
}

// Reload applies the hot-reloadable part of a config change. Settings that
// need a restart are only logged.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TokensChanged {
		a.front.Tokens().Set(d.NewTokens)
		slog.Info("bearer tokens rotated", "count", a.front.Tokens().Len())
	}
	if d.RateLimitChanged {
		a.limiter.SetLimit(d.NewRateLimit)
		slog.Info("rate limit changed", "requests_per_minute", d.NewRateLimit)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// Shutdown runs all closers in order. It respects the context deadline: if
// ctx expires before all closers finish, the remaining ones are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		closers := a.closers
		a.mu.Unlock()
		slog.Info("shutting down", "closers", len(closers))

		for i, closer := range closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// SlogLevel maps a config log level to its slog equivalent. Unknown values
// map to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func tlsCert(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.CertFile
}

func tlsKey(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.KeyFile
}

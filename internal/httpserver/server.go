// Package httpserver exposes the MCP server over streamable HTTP together
// with discovery documents, health probes and Prometheus metrics.
//
// Routes:
//
//	/mcp                             streamable HTTP MCP endpoint (bearer auth)
//	GET /health, /healthz, /readyz   health probes
//	GET /metrics                     Prometheus scrape endpoint
//	GET /.well-known/mcp-auth        authentication discovery
//	GET /.well-known/mcp.json        server metadata
//	GET /schemas/error-envelope.json error envelope JSON Schema
//	GET /mcp/tools                   registered tools
//	GET /mcp/status                  per-tool latency statistics
//
// Everything except /mcp is public.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/health"
	"github.com/MrWong99/osngd/internal/mcp/server"
	"github.com/MrWong99/osngd/internal/observe"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Options configures a [Server].
type Options struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// AllowedOrigins are accepted in addition to localhost origins.
	AllowedOrigins []string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// Metrics records HTTP request durations. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Ready reports whether the workflow context is loaded, for /mcp/status.
	Ready func() bool
}

// Server is the HTTP front of the MCP server.
type Server struct {
	opts   Options
	mcp    *server.Server
	tokens *Tokens

	handler http.Handler
}

// New builds the HTTP server. tokens may be updated later to rotate
// credentials without a restart.
func New(mcp *server.Server, h *health.Handler, tokens *Tokens, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if h == nil {
		h = health.New()
	}
	if tokens == nil {
		tokens = NewTokens()
	}
	s := &Server{opts: opts, mcp: mcp, tokens: tokens}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /.well-known/mcp-auth", s.handleAuthDiscovery)
	mux.HandleFunc("GET /.well-known/mcp.json", s.handleMetadata)
	mux.HandleFunc("GET "+envelope.SchemaPath, s.handleSchema)
	mux.HandleFunc("GET /mcp/tools", s.handleTools)
	mux.HandleFunc("GET /mcp/status", s.handleStatus)
	mcpHandler := mcp.HTTPHandler()
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/mcp/{$}", mcpHandler)

	var handler http.Handler = mux
	handler = guard(tokens, opts.AllowedOrigins, isPublic)(handler)
	handler = requestID(handler)
	handler = observe.Middleware(opts.Metrics, observe.WithRouteLabel(routeLabel))(handler)
	s.handler = handler
	return s
}

// routeLabel keeps metric and span cardinality bounded.
func routeLabel(r *http.Request) string {
	switch p := r.URL.Path; p {
	case "/health", "/healthz", "/readyz", "/metrics",
		"/.well-known/mcp-auth", "/.well-known/mcp.json", envelope.SchemaPath,
		"/mcp/tools", "/mcp/status":
		return p
	case "/mcp", "/mcp/":
		return "/mcp"
	}
	return "other"
}

func isPublic(path string) bool {
	return path != "/mcp" && path != "/mcp/"
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Tokens returns the live token set.
func (s *Server) Tokens() *Tokens { return s.tokens }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http transport listening", "addr", s.opts.Addr, "tls", s.opts.CertFile != "")
		var err error
		if s.opts.CertFile != "" && s.opts.KeyFile != "" {
			err = srv.ListenAndServeTLS(s.opts.CertFile, s.opts.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("httpserver: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpserver: shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleAuthDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authMethods": []map[string]string{{"type": "http", "scheme": "bearer"}},
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	codes := make([]string, 0, len(envelope.Codes()))
	for _, c := range envelope.Codes() {
		codes = append(codes, string(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        server.Name,
		"version":     server.Version,
		"description": "MCP server for the Ordnance Survey NGD Features, Linked Identifiers and Places APIs",
		"transport":   map[string]string{"type": "streamable-http", "endpoint": "/mcp"},
		"auth":        map[string]string{"discovery": "/.well-known/mcp-auth", "scheme": "bearer"},
		"tools":       s.mcp.ToolNames(),
		"errorEnvelope": map[string]any{
			"schema": envelope.SchemaPath,
			"codes":  codes,
		},
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope.Schema())
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.mcp.Tools()
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools, "count": len(tools)})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ready := false
	if s.opts.Ready != nil {
		ready = s.opts.Ready()
	}
	stats := s.mcp.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                  "ok",
		"server":                  server.Name,
		"version":                 server.Version,
		"uptime_seconds":          int64(stats.Uptime().Seconds()),
		"workflow_context_loaded": ready,
		"auth_tokens_configured":  s.tokens.Len(),
		"tools":                   stats.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Warn("httpserver: encode response", "err", err)
	}
}

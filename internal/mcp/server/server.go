// Package server assembles the MCP server: it registers every tool behind the
// interceptor chain, serves the prompts and documentation resources, and
// exposes the result over stdio or streamable HTTP using the official MCP Go
// SDK (github.com/modelcontextprotocol/go-sdk).
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/guard"
	"github.com/MrWong99/osngd/internal/mcp/middleware"
	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/ngd"
	"github.com/MrWong99/osngd/internal/observe"
	"github.com/MrWong99/osngd/internal/prompts"
	"github.com/MrWong99/osngd/internal/ratelimit"
)

// Name is the server name advertised to MCP clients and discovery documents.
const Name = "os-ngd-api"

// Version is the advertised server version.
const Version = "1.0.0"

const instructions = "Tools for the Ordnance Survey National Geographic Database (NGD) Features API, " +
	"Linked Identifiers API and Places API. Call get_workflow_context first: it lists the valid " +
	"collections and how to filter them, and most other tools refuse to run until it has succeeded. " +
	"Every failure is returned as a JSON error envelope with an error_code and retry_guidance."

// Deps are the collaborators the server wires into the interceptor chain.
type Deps struct {
	Metrics  *observe.Metrics
	Limiter  *ratelimit.Limiter
	Guard    *guard.Guard
	Workflow middleware.Readiness
	Catalog  *prompts.Catalog
	Docs     DocsFetcher

	// DocsBaseURL is reported as source_url in documentation resources.
	DocsBaseURL string
}

// ToolInfo describes a registered tool for discovery endpoints.
type ToolInfo struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Gated         bool           `json:"requires_workflow_context"`
	Idempotent    bool           `json:"idempotent"`
	DeclaredP50Ms int64          `json:"declared_p50_ms"`
	DeclaredMaxMs int64          `json:"declared_max_ms"`
	InputSchema   map[string]any `json:"input_schema"`
}

// Server is the assembled MCP server. Create with [New].
type Server struct {
	sdk   *mcpsdk.Server
	stats *middleware.Stats

	mu       sync.RWMutex
	tools    []tools.Tool
	handlers map[string]middleware.Handler
}

// New registers toolsets, prompts and resources on a fresh MCP server.
// Tool names must be unique; a duplicate is a programming error and panics.
func New(deps Deps, toolsets ...[]tools.Tool) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(0)
	}
	if deps.Guard == nil {
		deps.Guard = guard.Default()
	}
	if deps.Catalog == nil {
		deps.Catalog = prompts.Default()
	}

	s := &Server{
		sdk: mcpsdk.NewServer(
			&mcpsdk.Implementation{Name: Name, Version: Version},
			&mcpsdk.ServerOptions{Instructions: instructions},
		),
		stats:    middleware.NewStats(0),
		handlers: make(map[string]middleware.Handler),
	}

	interceptors := []middleware.Interceptor{
		middleware.Envelope(ngd.Classify),
		middleware.Observe(deps.Metrics, s.stats, ngd.Classify),
		middleware.Recover(),
		middleware.Deadline(),
		middleware.RateLimit(deps.Limiter, deps.Metrics),
		middleware.Guard(deps.Guard),
	}
	if deps.Workflow != nil {
		interceptors = append(interceptors, middleware.Gate(deps.Workflow, deps.Metrics))
	}

	for _, set := range toolsets {
		for _, t := range set {
			s.register(t, middleware.Chain(t, interceptors...))
		}
	}
	s.registerPrompts(deps.Catalog)
	if deps.Docs != nil {
		s.registerResources(deps.Docs, deps.DocsBaseURL)
	}
	return s
}

func (s *Server) register(t tools.Tool, h middleware.Handler) {
	name := t.Definition.Name
	s.mu.Lock()
	if _, dup := s.handlers[name]; dup {
		s.mu.Unlock()
		panic(fmt.Sprintf("server: duplicate tool %q", name))
	}
	s.tools = append(s.tools, t)
	s.handlers[name] = h
	s.mu.Unlock()

	s.sdk.AddTool(&mcpsdk.Tool{
		Name:        name,
		Description: t.Definition.Description,
		InputSchema: t.Definition.Parameters,
		Annotations: &mcpsdk.ToolAnnotations{IdempotentHint: t.Definition.Idempotent},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		ctx = middleware.WithClient(ctx, clientKey(req))
		var args string
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}
		out, err := h(ctx, args)
		return toResult(name, out, err), nil
	})
}

// clientKey identifies the caller for rate limiting: the MCP session id, or
// "stdio" for the single stdio session.
func clientKey(req *mcpsdk.CallToolRequest) string {
	if req.Session != nil {
		if id := req.Session.ID(); id != "" {
			return "session:" + id
		}
	}
	return "stdio"
}

// toResult converts a chained handler outcome into an MCP result. Failures
// carry the envelope JSON and IsError.
func toResult(tool, out string, err error) *mcpsdk.CallToolResult {
	if err == nil {
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}}}
	}
	var f *middleware.Failure
	if !errors.As(err, &f) {
		out = envelope.FromError(tool, err, ngd.Classify).JSON()
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
		IsError: true,
	}
}

// Call runs a registered tool through its interceptor chain without an MCP
// session.
func (s *Server) Call(ctx context.Context, name, args string) (string, error) {
	s.mu.RLock()
	h, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		env := envelope.Build(name, envelope.Errorf(envelope.CodeNotFound, "Unknown tool '%s'", name))
		return env.JSON(), &middleware.Failure{Envelope: env}
	}
	return h(ctx, args)
}

// Tools describes every registered tool in registration order.
func (s *Server) Tools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolInfo, len(s.tools))
	for i, t := range s.tools {
		out[i] = ToolInfo{
			Name:          t.Definition.Name,
			Description:   t.Definition.Description,
			Gated:         t.Definition.Gated,
			Idempotent:    t.Definition.Idempotent,
			DeclaredP50Ms: t.DeclaredP50,
			DeclaredMaxMs: t.DeclaredMax,
			InputSchema:   t.Definition.Parameters,
		}
	}
	return out
}

// ToolNames lists the registered tool names, sorted.
func (s *Server) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.tools))
	for i, t := range s.tools {
		names[i] = t.Definition.Name
	}
	slices.Sort(names)
	return names
}

// Stats exposes per-tool latency statistics.
func (s *Server) Stats() *middleware.Stats { return s.stats }

// SDK returns the underlying MCP server.
func (s *Server) SDK() *mcpsdk.Server { return s.sdk }

// RunStdio serves a single session over stdin/stdout until ctx ends or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.sdk.Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler returns the streamable HTTP MCP handler.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.sdk }, nil)
}

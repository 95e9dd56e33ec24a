// Package mcpclient is a small MCP client for the streamable HTTP transport.
// The REST companion uses it to forward calls to the MCP server.
//
// Sessions are opened lazily, one per bearer token, so each caller's
// credentials reach the server unchanged. A session that fails is dropped and
// reopened on the next call.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool is a tool advertised by the server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Result is the outcome of a tool call. Text is the concatenated text
// content; when IsError is set it holds the error envelope JSON.
type Result struct {
	Text    string
	IsError bool
}

// Client connects to one MCP endpoint. It is safe for concurrent use.
type Client struct {
	endpoint string
	base     http.RoundTripper
	client   *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession // key: bearer token
}

// Option configures a [Client].
type Option func(*Client)

// WithTransport replaces [http.DefaultTransport] for outgoing requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// New creates a client for the streamable HTTP endpoint, e.g.
// "http://localhost:8000/mcp".
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		base:     http.DefaultTransport,
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "osngd-rest", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// bearer adds the caller's token to every request of one session.
type bearer struct {
	token string
	base  http.RoundTripper
}

func (b *bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(r)
}

func (c *Client) session(ctx context.Context, token string) (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[token]; ok {
		return s, nil
	}
	s, err := c.client.Connect(ctx, &mcpsdk.StreamableClientTransport{
		Endpoint:   c.endpoint,
		HTTPClient: &http.Client{Transport: &bearer{token: token, base: c.base}},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: connect to %s: %w", c.endpoint, err)
	}
	c.sessions[token] = s
	return s, nil
}

// drop closes and forgets the session of token if it is still s.
func (c *Client) drop(token string, s *mcpsdk.ClientSession) {
	c.mu.Lock()
	if cur, ok := c.sessions[token]; ok && cur == s {
		delete(c.sessions, token)
	}
	c.mu.Unlock()
	_ = s.Close()
}

// ListTools lists the tools visible with token.
func (c *Client) ListTools(ctx context.Context, token string) ([]Tool, error) {
	s, err := c.session(ctx, token)
	if err != nil {
		return nil, err
	}
	var out []Tool
	for t, err := range s.Tools(ctx, nil) {
		if err != nil {
			c.drop(token, s)
			return nil, fmt.Errorf("mcpclient: list tools: %w", err)
		}
		out = append(out, Tool{Name: t.Name, Description: t.Description, InputSchema: schemaToMap(t.InputSchema)})
	}
	return out, nil
}

// CallTool calls name with args using token. A tool-level failure is a
// successful call with [Result.IsError] set; the returned error covers
// transport and protocol failures only.
func (c *Client) CallTool(ctx context.Context, token, name string, args map[string]any) (Result, error) {
	s, err := c.session(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if ctx.Err() == nil {
			c.drop(token, s)
		}
		return Result{}, fmt.Errorf("mcpclient: call to tool %q failed: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return Result{Text: sb.String(), IsError: res.IsError}, nil
}

// Close closes every open session.
func (c *Client) Close() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			slog.Debug("mcpclient: close session", "err", err)
		}
	}
	return nil
}

// schemaToMap converts an input schema of any shape into a plain map.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

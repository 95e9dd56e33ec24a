package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/health"
	"github.com/MrWong99/osngd/internal/mcp/server"
	"github.com/MrWong99/osngd/internal/mcp/tools"
)

func echoTools() []tools.Tool {
	return []tools.Tool{{
		Definition: tools.Definition{
			Name:        "hello_world",
			Description: "connectivity check",
			Parameters:  tools.Object(map[string]any{}),
		},
		Handler: func(context.Context, string) (string, error) {
			return "Hello from the OS NGD - Features API MCP server!", nil
		},
		DeclaredMax: 1_000,
	}}
}

func newTestServer(t *testing.T, tokens ...string) (*Server, *httptest.Server) {
	t.Helper()
	mcp := server.New(server.Deps{}, echoTools())
	s := New(mcp, health.New(), NewTokens(tokens...), Options{
		AllowedOrigins: []string{"https://maps.example.org"},
		Ready:          func() bool { return true },
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestDiscoveryEndpointsArePublic(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, "dev-token")

	resp, body := get(t, ts.URL+"/.well-known/mcp-auth", nil)
	methods, _ := body["authMethods"].([]any)
	if resp.StatusCode != http.StatusOK || len(methods) != 1 ||
		methods[0].(map[string]any)["scheme"] != "bearer" {
		t.Errorf("mcp-auth: %d %v", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/.well-known/mcp.json", nil)
	ee, _ := body["errorEnvelope"].(map[string]any)
	if resp.StatusCode != http.StatusOK || body["name"] != "os-ngd-api" || ee["schema"] != envelope.SchemaPath {
		t.Errorf("mcp.json: %d %v", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+envelope.SchemaPath, nil)
	required, _ := body["required"].([]any)
	if resp.StatusCode != http.StatusOK || body["type"] != "object" || len(required) == 0 {
		t.Errorf("schema: %d %v", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/mcp/tools", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != 1.0 {
		t.Errorf("tools: %d %v", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/mcp/status", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["workflow_context_loaded"] != true {
		t.Errorf("status: %d %v", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", resp.StatusCode, body)
	}

	resp, _ = get(t, ts.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: %d", resp.StatusCode)
	}
}

func TestMCPEndpointRequiresBearer(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, "dev-token")

	tests := map[string]string{
		"missing": "",
		"wrong":   "Bearer nope",
		"scheme":  "Basic dev-token",
	}
	for name, auth := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader("{}"))
			if auth != "" {
				req.Header.Set("Authorization", auth)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

type bearerTransport struct{ token string }

func (b bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(r)
}

func TestMCPEndpointServesTools(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, "dev-token")

	ctx := context.Background()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{
		Endpoint:   ts.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearerTransport{token: "dev-token"}},
	}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "hello_world"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || !strings.Contains(res.Content[0].(*mcpsdk.TextContent).Text, "Hello") {
		t.Errorf("result = %+v", res)
	}
}

func TestTokenRotation(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t, "old")
	s.Tokens().Set([]string{"new", " "})

	if s.Tokens().Len() != 1 || s.Tokens().Valid("old") || !s.Tokens().Valid("new") {
		t.Fatalf("tokens not rotated")
	}
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer old")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("old token status = %d", resp.StatusCode)
	}
}

func TestOriginAndExtensionBlocking(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, "dev-token")

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"localhost origin", map[string]string{"Origin": "http://localhost:3000"}, http.StatusOK},
		{"allowed origin", map[string]string{"Origin": "https://maps.example.org"}, http.StatusOK},
		{"foreign origin", map[string]string{"Origin": "https://evil.example.com"}, http.StatusForbidden},
		{"extension origin", map[string]string{"Origin": "chrome-extension://abcdef"}, http.StatusForbidden},
		{"extension agent", map[string]string{"User-Agent": "Mozilla/5.0 Browser-Extension"}, http.StatusForbidden},
		{"no origin", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, _ := get(t, ts.URL+"/health", tt.header)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	resp, _ := get(t, ts.URL+"/health", map[string]string{RequestIDHeader: "abc-123"})
	if got := resp.Header.Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("echoed id = %q", got)
	}

	resp, _ = get(t, ts.URL+"/health", nil)
	if _, err := uuid.Parse(resp.Header.Get(RequestIDHeader)); err != nil {
		t.Errorf("generated id %q is not a uuid: %v", resp.Header.Get(RequestIDHeader), err)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer abc ":  "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
		"Bearer  two ": "two",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := BearerToken(r); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/httpserver"
	"github.com/MrWong99/osngd/internal/mcp/mcpclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type call struct {
	token string
	tool  string
	args  map[string]any
}

// fakeCaller records forwarded calls and answers from a fixed table.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []call
	results map[string]mcpclient.Result
	err     error
}

func (f *fakeCaller) ListTools(_ context.Context, token string) ([]mcpclient.Tool, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []mcpclient.Tool{{Name: "hello_world"}, {Name: "search_features"}}, nil
}

func (f *fakeCaller) CallTool(_ context.Context, token, name string, args map[string]any) (mcpclient.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{token: token, tool: name, args: args})
	f.mu.Unlock()
	if f.err != nil {
		return mcpclient.Result{}, f.err
	}
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return mcpclient.Result{Text: `{"ok":true}`}, nil
}

func (f *fakeCaller) last(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls, "no call forwarded")
	return f.calls[len(f.calls)-1]
}

func envelopeText(code envelope.Code, tool string) string {
	return envelope.Build(tool, envelope.New(code, "failed")).JSON()
}

func newRouter(f *fakeCaller) *gin.Engine {
	return NewRouter(f, Options{
		Tokens:      httpserver.NewTokens("dev-token"),
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()
	w := do(newRouter(&fakeCaller{}), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"osngd-rest"}`, w.Body.String())
}

func TestBearerRequired(t *testing.T) {
	t.Parallel()
	f := &fakeCaller{}
	r := newRouter(f)
	for _, path := range []string{"/tools", "/collections", "/workflow/context", "/search/features"} {
		for _, token := range []string{"", "wrong"} {
			w := do(r, http.MethodGet, path, token, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code, "%s with %q", path, token)
		}
	}
	w := do(r, http.MethodPost, "/tools/hello_world", "", "{}")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.calls, "unauthenticated request reached the MCP server")
}

func TestListTools(t *testing.T) {
	t.Parallel()
	w := do(newRouter(&fakeCaller{}), http.MethodGet, "/tools", "dev-token", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tools []mcpclient.Tool `json:"tools"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "hello_world", body.Tools[0].Name)
}

func TestCallToolForwardsArgumentsAndToken(t *testing.T) {
	t.Parallel()
	f := &fakeCaller{}
	w := do(newRouter(f), http.MethodPost, "/tools/get_feature", "dev-token",
		`{"collection_id":"trn-ntwk-street-1","feature_id":"abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	c := f.last(t)
	assert.Equal(t, "dev-token", c.token)
	assert.Equal(t, "get_feature", c.tool)
	assert.Equal(t, "abc", c.args["feature_id"])
}

func TestCallToolRejectsNonObjectBody(t *testing.T) {
	t.Parallel()
	f := &fakeCaller{}
	w := do(newRouter(f), http.MethodPost, "/tools/get_feature", "dev-token", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, envelope.CodeInvalidInput, env.ErrorCode)
	assert.Empty(t, f.calls)
}

func TestShortcutRoutes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		tool string
		args map[string]any
	}{
		{"/collections", "list_collections", nil},
		{"/workflow/context", "get_workflow_context", nil},
		{"/search/features", "search_features", map[string]any{"collection_id": DefaultCollection}},
		{
			"/search/features?collection_id=lus-fts-site-1&bbox=-1.2,52.9,-1.1,53.0&limit=5&filter=name%3D%27x%27",
			"search_features",
			map[string]any{"collection_id": "lus-fts-site-1", "bbox": "-1.2,52.9,-1.1,53.0", "limit": 5, "filter": "name='x'"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			f := &fakeCaller{}
			w := do(newRouter(f), http.MethodGet, tt.path, "dev-token", "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			c := f.last(t)
			assert.Equal(t, tt.tool, c.tool)
			if tt.args != nil {
				assert.Equal(t, tt.args, c.args)
			}
		})
	}
}

func TestSearchFeaturesBadLimit(t *testing.T) {
	t.Parallel()
	f := &fakeCaller{}
	w := do(newRouter(f), http.MethodGet, "/search/features?limit=ten", "dev-token", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.calls)
}

func TestEnvelopeStatusMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code envelope.Code
		want int
	}{
		{envelope.CodeInvalidInput, http.StatusBadRequest},
		{envelope.CodeWorkflowContext, http.StatusPreconditionRequired},
		{envelope.CodeRateLimit, http.StatusTooManyRequests},
		{envelope.CodeNotFound, http.StatusNotFound},
		{envelope.CodeUpstream, http.StatusBadGateway},
		{envelope.CodeAuthRequired, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			f := &fakeCaller{results: map[string]mcpclient.Result{
				"search_features": {Text: envelopeText(tt.code, "search_features"), IsError: true},
			}}
			w := do(newRouter(f), http.MethodGet, "/search/features", "dev-token", "")
			assert.Equal(t, tt.want, w.Code)

			var env envelope.Envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.Equal(t, tt.code, env.ErrorCode)
			assert.Equal(t, "search_features", env.Tool)
		})
	}
}

func TestNonJSONResultIsWrapped(t *testing.T) {
	t.Parallel()
	f := &fakeCaller{results: map[string]mcpclient.Result{
		"hello_world": {Text: "Hello from the OS NGD - Features API MCP server!"},
	}}
	w := do(newRouter(f), http.MethodPost, "/tools/hello_world", "dev-token", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":"Hello from the OS NGD - Features API MCP server!"}`, w.Body.String())
}

func TestMCPServerUnavailable(t *testing.T) {
	t.Parallel()
	f := &fakeCaller{err: errors.New("connection refused")}
	r := newRouter(f)

	w := do(r, http.MethodGet, "/collections", "dev-token", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = do(r, http.MethodGet, "/tools", "dev-token", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodOptions, "/collections", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	newRouter(&fakeCaller{}).ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/mcp/server"
	"github.com/MrWong99/osngd/internal/mcp/tools"
)

func testTools() []tools.Tool {
	type echoArgs struct {
		Text string `json:"text"`
	}
	return []tools.Tool{
		{
			Definition: tools.Definition{
				Name:        "echo",
				Description: "echoes text",
				Parameters:  tools.Object(map[string]any{"text": tools.String("text to echo")}, "text"),
			},
			Handler: func(_ context.Context, args string) (string, error) {
				var a echoArgs
				if err := tools.Decode(args, &a); err != nil {
					return "", err
				}
				if a.Text == "" {
					return "", envelope.InvalidInput("text is required")
				}
				return tools.Encode(map[string]string{"echo": a.Text})
			},
		},
	}
}

// tokenRecorder remembers the Authorization headers that reached the server.
type tokenRecorder struct {
	mu   sync.Mutex
	seen map[string]int
}

func (tr *tokenRecorder) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr.mu.Lock()
		tr.seen[r.Header.Get("Authorization")]++
		tr.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (tr *tokenRecorder) count(header string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.seen[header]
}

func newTestClient(t *testing.T) (*Client, *tokenRecorder) {
	t.Helper()
	rec := &tokenRecorder{seen: make(map[string]int)}
	mcp := server.New(server.Deps{}, testTools())
	ts := httptest.NewServer(rec.wrap(mcp.HTTPHandler()))
	t.Cleanup(ts.Close)

	c := New(ts.URL)
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}

func TestListTools(t *testing.T) {
	t.Parallel()
	c, rec := newTestClient(t)

	got, err := c.ListTools(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(got) != 1 || got[0].Name != "echo" || got[0].InputSchema["type"] != "object" {
		t.Errorf("tools = %+v", got)
	}
	if rec.count("Bearer alice") == 0 {
		t.Error("bearer token not forwarded")
	}
}

func TestCallTool(t *testing.T) {
	t.Parallel()
	c, rec := newTestClient(t)
	ctx := context.Background()

	res, err := c.CallTool(ctx, "alice", "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || res.Text != `{"echo":"hi"}` {
		t.Errorf("result = %+v", res)
	}

	res, err = c.CallTool(ctx, "bob", "echo", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected tool error, got %+v", res)
	}
	var env envelope.Envelope
	if err := json.Unmarshal([]byte(res.Text), &env); err != nil || env.ErrorCode != envelope.CodeInvalidInput {
		t.Errorf("envelope = %s (%v)", res.Text, err)
	}
	if rec.count("Bearer bob") == 0 {
		t.Error("second caller's token not forwarded")
	}
}

func TestSessionsAreReusedPerToken(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t)
	ctx := context.Background()

	for range 3 {
		if _, err := c.CallTool(ctx, "alice", "echo", map[string]any{"text": "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.CallTool(ctx, "bob", "echo", map[string]any{"text": "x"}); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	n := len(c.sessions)
	c.mu.Unlock()
	if n != 2 {
		t.Errorf("open sessions = %d, want 2", n)
	}
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"Authentication required"}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := New(ts.URL)
	defer c.Close()
	_, err := c.CallTool(context.Background(), "nope", "echo", nil)
	if err == nil || !strings.Contains(err.Error(), "mcpclient") {
		t.Errorf("err = %v", err)
	}
}

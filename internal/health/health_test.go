package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/osngd/internal/resilience"
)

func readyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	failing := Checker{Name: "api_key", Check: func(context.Context) error { return errors.New("unset") }}
	rec := httptest.NewRecorder()
	New(failing).Healthz(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, liveness must not run checkers", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"status\":\"ok\"}\n" {
		t.Errorf("body = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "api_key", Check: ok},
				{Name: "upstream", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"api_key": "ok", "upstream": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				APIKey(func() (string, error) { return "", errors.New("OS_API_KEY environment variable is not set") }),
				{Name: "upstream", Check: ok},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{
				"api_key":  "fail: OS_API_KEY environment variable is not set",
				"upstream": "ok",
			},
		},
		{
			name: "pending workflow context does not fail",
			checkers: []Checker{
				Loaded("workflow_context", func() bool { return false }),
				APIKey(func() (string, error) { return "k", nil }),
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{
				"workflow_context": "pending: not loaded yet",
				"api_key":          "ok",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tt.checkers...))
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			wantBody := "ok"
			if tt.wantStatus != http.StatusOK {
				wantBody = "fail"
			}
			if body.Status != wantBody {
				t.Errorf("body status = %q, want %q", body.Status, wantBody)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()
	cb := resilience.New(resilience.Config{Name: "ngd", MaxFailures: 1, ResetTimeout: time.Hour})
	h := New(Breaker(cb))

	if code, _ := readyz(t, h); code != http.StatusOK {
		t.Fatalf("closed breaker: status = %d", code)
	}

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable || body.Checks["upstream"] != "fail: circuit breaker open" {
		t.Errorf("open breaker: status = %d, checks = %v", code, body.Checks)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	// Each checker waits for the other; sequential evaluation would hit the
	// check timeout instead.
	a, b := make(chan struct{}), make(chan struct{})
	rendezvous := func(mine, theirs chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-theirs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	h := New(
		Checker{Name: "a", Check: rendezvous(a, b)},
		Checker{Name: "b", Check: rendezvous(b, a)},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestReadyz_OptionalFailureIsPending(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "cache", Optional: true, Check: func(context.Context) error {
		return errors.New("cold")
	}})
	code, body := readyz(t, h)
	if code != http.StatusOK || body.Status != "ok" || body.Checks["cache"] != "pending: cold" {
		t.Errorf("status = %d, body = %+v", code, body)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Loaded("workflow_context", func() bool { return true })).Register(mux)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodPost, "/readyz", http.StatusMethodNotAllowed},
		{http.MethodGet, "/livez", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestReadyz_CancelledRequestFails(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "upstream", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

// Package health serves the liveness and readiness endpoints of the HTTP
// transport:
//
//   - /health and /healthz always answer {"status":"ok"} while the process
//     serves HTTP.
//   - /readyz runs every [Checker] and answers 503 when a required one fails.
//
// Readiness bodies carry a "checks" map of name to "ok", "fail: <reason>"
// or, for optional checkers, "pending: <reason>".
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/osngd/internal/resilience"
)

// checkTimeout bounds a single check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional checkers are reported as pending when they fail but do not
	// fail readiness.
	Optional bool
}

// APIKey fails while no OS API key is configured. key is usually
// [ngd.Client.APIKey].
func APIKey(key func() (string, error)) Checker {
	return Checker{Name: "api_key", Check: func(context.Context) error {
		_, err := key()
		return err
	}}
}

// Breaker fails while the upstream circuit breaker is open.
func Breaker(cb *resilience.CircuitBreaker) Checker {
	return Checker{Name: "upstream", Check: func(context.Context) error {
		if s := cb.State(); s == resilience.StateOpen {
			return fmt.Errorf("circuit breaker %s", s)
		}
		return nil
	}}
}

// Loaded reports whether something loaded on demand, such as the workflow
// context, has been fetched yet. It is optional.
func Loaded(name string, ready func() bool) Checker {
	return Checker{Name: name, Optional: true, Check: func(context.Context) error {
		if !ready() {
			return fmt.Errorf("not loaded yet")
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each with its own [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		switch err := errs[i]; {
		case err == nil:
			res.Checks[c.Name] = "ok"
		case c.Optional:
			res.Checks[c.Name] = "pending: " + err.Error()
		default:
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, res)
}

// Register adds /health, /healthz and /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Healthz)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

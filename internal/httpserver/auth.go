package httpserver

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/osngd/internal/observe"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = observe.RequestIDHeader

// Tokens is the hot-swappable set of accepted bearer tokens.
type Tokens struct {
	mu     sync.RWMutex
	tokens []string
}

// NewTokens returns a set holding tokens.
func NewTokens(tokens ...string) *Tokens {
	t := &Tokens{}
	t.Set(tokens)
	return t
}

// Set replaces the accepted tokens. Blank entries are ignored.
func (t *Tokens) Set(tokens []string) {
	clean := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			clean = append(clean, tok)
		}
	}
	t.mu.Lock()
	t.tokens = clean
	t.mu.Unlock()
}

// Len returns the number of accepted tokens.
func (t *Tokens) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tokens)
}

// Valid reports whether tok is one of the accepted tokens. The comparison
// runs in constant time per candidate.
func (t *Tokens) Valid(tok string) bool {
	if tok == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	ok := false
	for _, want := range t.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(want)) == 1 {
			ok = true
		}
	}
	return ok
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// requestID propagates X-Request-ID, generating a UUID when the caller sent
// none.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observe.WithRequestID(r.Context(), id)))
	})
}

var localOrigins = []string{"http://localhost:", "http://127.0.0.1:", "https://localhost:", "https://127.0.0.1:"}

var extensionOrigins = []string{"chrome-extension://", "moz-extension://", "safari-extension://"}

var extensionAgents = []string{"chrome-extension", "mozilla/5.0 (compatible; extension)", "browser-extension"}

// originAllowed accepts local development origins and the exact origins in
// allowed.
func originAllowed(origin string, allowed []string) bool {
	for _, p := range localOrigins {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return slices.Contains(allowed, origin)
}

func fromExtension(r *http.Request) bool {
	ua := strings.ToLower(r.UserAgent())
	for _, p := range extensionAgents {
		if strings.Contains(ua, p) {
			return true
		}
	}
	origin := r.Header.Get("Origin")
	for _, p := range extensionOrigins {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}

// guard rejects browser extensions and foreign origins (DNS rebinding
// protection), then requires a bearer token unless the path is public.
func guard(tokens *Tokens, allowed []string, public func(path string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := observe.Logger(r.Context())
			if fromExtension(r) {
				log.Warn("blocked browser extension", "remote", r.RemoteAddr, "user_agent", r.UserAgent())
				writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Browser plugin access is not allowed"})
				return
			}
			if origin := r.Header.Get("Origin"); origin != "" && !originAllowed(origin, allowed) {
				log.Warn("blocked origin", "remote", r.RemoteAddr, "origin", origin)
				writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid origin"})
				return
			}
			if public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if !tokens.Valid(BearerToken(r)) {
				log.LogAttrs(r.Context(), slog.LevelInfo, "authentication failed",
					slog.String("remote", r.RemoteAddr), slog.String("path", r.URL.Path))
				w.Header().Set("WWW-Authenticate", `Bearer realm="osngd"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Package ratelimit implements the per-client requests-per-minute ceiling
// applied to every tool call.
//
// The limiter keeps the timestamps of admitted calls per client key and
// prunes those older than the window before each decision, so exactly
// ceiling calls are admitted in any window-long interval.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the sliding window length.
const DefaultWindow = time.Minute

// Limiter is a sliding-window rate limiter keyed by client. It is safe for
// concurrent use. The ceiling can be changed at runtime with [Limiter.SetLimit].
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string][]time.Time
	now     func() time.Time
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithWindow overrides [DefaultWindow].
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock injects the time source. Tests use this to step time.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter admitting limit calls per window per client. A limit
// of zero or less disables limiting.
func New(limit int, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  DefaultWindow,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow records a call for key and reports whether it is within the ceiling.
// When it is not, the returned duration is how long until the oldest call
// leaves the window.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return true, 0
	}

	now := l.now()
	stamps := l.prune(key, now)
	if len(stamps) >= l.limit {
		return false, stamps[0].Add(l.window).Sub(now)
	}
	l.clients[key] = append(stamps, now)
	return true, 0
}

// prune drops timestamps outside the window. Must be called with mu held.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	stamps := l.clients[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == len(stamps) {
		delete(l.clients, key)
		return nil
	}
	stamps = stamps[i:]
	l.clients[key] = stamps
	return stamps
}

// Remaining reports how many calls key may still make in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return -1
	}
	return max(l.limit-len(l.prune(key, l.now())), 0)
}

// Limit returns the current ceiling.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// SetLimit changes the ceiling. Already recorded calls keep counting.
func (l *Limiter) SetLimit(limit int) {
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

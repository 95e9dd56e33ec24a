package middleware

import (
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// defaultWindowSize is the default capacity of each tool's rolling window.
const defaultWindowSize = 100

// rollingWindow tracks the last N call latencies of one tool for percentile
// calculation. It uses a ring buffer so that only the most recent [size]
// measurements are kept. Callers hold Stats.mu.
type rollingWindow struct {
	samples []int64 // latency in ms
	failed  []bool
	pos     int // next write position
	count   int // total samples written (may exceed size)
	errors  int // total errors written
	size    int
}

func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{
		samples: make([]int64, size),
		failed:  make([]bool, size),
		size:    size,
	}
}

func (w *rollingWindow) record(latencyMs int64, isError bool) {
	w.samples[w.pos] = latencyMs
	w.failed[w.pos] = isError
	w.pos = (w.pos + 1) % w.size
	w.count++
	if isError {
		w.errors++
	}
}

// windowLen returns the number of meaningful samples in the buffer.
func (w *rollingWindow) windowLen() int {
	return min(w.count, w.size)
}

func (w *rollingWindow) sorted() []int64 {
	n := w.windowLen()
	cp := make([]int64, n)
	copy(cp, w.samples[:n])
	slices.Sort(cp)
	return cp
}

func (w *rollingWindow) percentile(p float64) int64 {
	s := w.sorted()
	if len(s) == 0 {
		return 0
	}
	return s[int(float64(len(s)-1)*p)]
}

func (w *rollingWindow) errorRate() float64 {
	n := w.windowLen()
	if n == 0 {
		return 0
	}
	failed := 0
	for _, f := range w.failed[:n] {
		if f {
			failed++
		}
	}
	return float64(failed) / float64(n)
}

// ToolStats is a point-in-time view of one tool's measurements.
type ToolStats struct {
	Calls     int     `json:"calls"`
	Errors    int     `json:"errors"`
	P50Ms     int64   `json:"p50_ms"`
	P99Ms     int64   `json:"p99_ms"`
	ErrorRate float64 `json:"error_rate"`
}

// Stats keeps rolling latency windows per tool. It implements [Recorder] and
// is safe for concurrent use. The zero value is not usable; use [NewStats].
type Stats struct {
	mu      sync.Mutex
	size    int
	windows map[string]*rollingWindow
	started time.Time
}

// NewStats creates a Stats keeping size samples per tool. A size of 0 or
// negative defaults to 100.
func NewStats(size int) *Stats {
	return &Stats{size: size, windows: make(map[string]*rollingWindow), started: time.Now()}
}

// Record implements [Recorder].
func (s *Stats) Record(tool string, d time.Duration, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[tool]
	if !ok {
		w = newRollingWindow(s.size)
		s.windows[tool] = w
	}
	w.record(d.Milliseconds(), isError)
}

// Snapshot returns the current statistics keyed by tool name.
func (s *Stats) Snapshot() map[string]ToolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ToolStats, len(s.windows))
	for name, w := range s.windows {
		out[name] = ToolStats{
			Calls:     w.count,
			Errors:    w.errors,
			P50Ms:     w.percentile(0.5),
			P99Ms:     w.percentile(0.99),
			ErrorRate: w.errorRate(),
		}
	}
	return out
}

// Tools lists the tools that have been called at least once.
func (s *Stats) Tools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := slices.Collect(maps.Keys(s.windows))
	sort.Strings(names)
	return names
}

// Uptime returns the time since [NewStats].
func (s *Stats) Uptime() time.Duration { return time.Since(s.started) }

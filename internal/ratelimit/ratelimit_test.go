package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLimiter_CeilingThenRecovery(t *testing.T) {
	t.Parallel()
	clk := newClock()
	l := New(5, WithClock(clk.Now))

	admitted := 0
	for range 8 {
		if ok, _ := l.Allow("client"); ok {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("admitted %d calls, want 5", admitted)
	}

	ok, wait := l.Allow("client")
	if ok {
		t.Fatal("call above ceiling admitted")
	}
	if wait != time.Minute {
		t.Errorf("retry after = %v, want 1m", wait)
	}

	clk.Advance(time.Minute + time.Millisecond)
	if ok, _ := l.Allow("client"); !ok {
		t.Fatal("call after the window elapsed was rejected")
	}
}

func TestLimiter_SlidesRatherThanResets(t *testing.T) {
	t.Parallel()
	clk := newClock()
	l := New(2, WithClock(clk.Now))

	l.Allow("c")
	clk.Advance(40 * time.Second)
	l.Allow("c")

	clk.Advance(25 * time.Second) // first call is now 65s old
	if ok, _ := l.Allow("c"); !ok {
		t.Fatal("expected a slot once the first call left the window")
	}
	if ok, wait := l.Allow("c"); ok || wait != 35*time.Second {
		t.Fatalf("Allow = %v, %v; want false, 35s", ok, wait)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	l := New(1, WithClock(newClock().Now))
	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("a rejected")
	}
	if ok, _ := l.Allow("b"); !ok {
		t.Fatal("b rejected after a used its slot")
	}
	if ok, _ := l.Allow("a"); ok {
		t.Fatal("a admitted twice")
	}
}

func TestLimiter_DisabledAndSetLimit(t *testing.T) {
	t.Parallel()
	clk := newClock()
	l := New(0, WithClock(clk.Now))
	for range 100 {
		if ok, _ := l.Allow("x"); !ok {
			t.Fatal("disabled limiter rejected a call")
		}
	}
	if l.Remaining("x") != -1 {
		t.Errorf("Remaining on disabled limiter = %d, want -1", l.Remaining("x"))
	}

	l.SetLimit(3)
	if l.Limit() != 3 {
		t.Fatalf("Limit = %d", l.Limit())
	}
	l.Allow("y")
	if got := l.Remaining("y"); got != 2 {
		t.Errorf("Remaining = %d, want 2", got)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	t.Parallel()
	l := New(50, WithClock(newClock().Now))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range 200 {
		wg.Go(func() {
			if ok, _ := l.Allow("shared"); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	if admitted != 50 {
		t.Fatalf("admitted %d, want 50", admitted)
	}
}

func TestWithWindow(t *testing.T) {
	t.Parallel()
	clk := newClock()
	l := New(1, WithClock(clk.Now), WithWindow(time.Second))
	if l.Window() != time.Second {
		t.Fatalf("Window = %v", l.Window())
	}
	l.Allow("k")
	clk.Advance(time.Second)
	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("call exactly one window later rejected")
	}
}

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time manually.
type fakeClock struct {
	mu  sync.Mutex
	t   time.Time
	now func() time.Time
}

func newFakeClock() *fakeClock {
	c := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = func() time.Time {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.t
	}
	return c
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *fakeClock) {
	t.Helper()

	l, err := New(max, window)
	if err != nil {
		t.Fatalf("New(%d, %v) failed: %v", max, window, err)
	}
	clock := newFakeClock()
	l.now = clock.now
	return l, clock
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		max    int
		window time.Duration
	}{
		{"zero max", 0, time.Minute},
		{"negative max", -1, time.Minute},
		{"zero window", 5, 0},
		{"negative window", 5, -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.max, tt.window); err == nil {
				t.Errorf("New(%d, %v) succeeded, want error", tt.max, tt.window)
			}
		})
	}
}

func TestAllowsUpToMaxThenBlocks(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.CanProceed() {
			t.Fatalf("request %d blocked, want allowed", i+1)
		}
		l.RecordRequest()
	}

	if l.CanProceed() {
		t.Error("request 4 allowed, want blocked")
	}

	stats := l.Stats()
	if stats.WindowCount != 3 {
		t.Errorf("WindowCount = %d, want 3", stats.WindowCount)
	}
}

func TestWindowResetsAfterElapse(t *testing.T) {
	l, clock := newTestLimiter(t, 2, time.Minute)

	l.RecordRequest()
	l.RecordRequest()
	if l.CanProceed() {
		t.Fatal("saturated window still allows requests")
	}

	clock.advance(time.Minute)

	if !l.CanProceed() {
		t.Error("window did not reset after elapsing")
	}
}

func TestWindowStartsAtFirstRequest(t *testing.T) {
	l, clock := newTestLimiter(t, 1, time.Minute)

	// Idle time before the first request must not count against the window.
	clock.advance(30 * time.Second)
	l.RecordRequest()

	clock.advance(59 * time.Second)
	if l.CanProceed() {
		t.Error("window rolled early; it must start at the first request")
	}

	clock.advance(time.Second)
	if !l.CanProceed() {
		t.Error("window did not roll a full window after the first request")
	}
}

func TestWaitTime(t *testing.T) {
	l, clock := newTestLimiter(t, 1, time.Minute)

	if got := l.WaitTime(); got != 0 {
		t.Errorf("WaitTime on empty limiter = %v, want 0", got)
	}

	l.RecordRequest()
	clock.advance(20 * time.Second)

	if got := l.WaitTime(); got != 40*time.Second {
		t.Errorf("WaitTime = %v, want 40s", got)
	}
}

func TestWaitCancellation(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Hour)
	l.RecordRequest()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Wait = %v, want context.DeadlineExceeded", err)
	}

	if l.Stats().Blocked != 1 {
		t.Errorf("Blocked = %d, want 1", l.Stats().Blocked)
	}
}

func TestWaitGrantsWhenWindowRolls(t *testing.T) {
	l, err := New(1, 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	l.RecordRequest()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Wait returned after %v, expected it to block until the window rolled", elapsed)
	}
}

func TestConcurrentWaitersNeverExceedCeiling(t *testing.T) {
	const max = 5
	l, err := New(max, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 2*max; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx); err != nil {
				t.Errorf("Wait failed: %v", err)
			}
		}()
	}
	wg.Wait()

	stats := l.Stats()
	if stats.Allowed != 2*max {
		t.Errorf("Allowed = %d, want %d", stats.Allowed, 2*max)
	}
	// Every waiter got exactly one slot; no window ever granted more
	// than the ceiling.
	if stats.WindowCount > max {
		t.Errorf("WindowCount = %d, exceeds ceiling %d", stats.WindowCount, max)
	}
}

func TestStatsCounters(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)

	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Wait(cancelled); err == nil {
		t.Fatal("Wait on saturated limiter with cancelled context succeeded")
	}

	stats := l.Stats()
	if stats.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", stats.TotalRequests)
	}
	if stats.Allowed != 1 {
		t.Errorf("Allowed = %d, want 1", stats.Allowed)
	}
	if stats.Blocked != 1 {
		t.Errorf("Blocked = %d, want 1", stats.Blocked)
	}
}

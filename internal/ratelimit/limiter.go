// Package ratelimit bounds the rate of outbound remote calls.
//
// Limiter implements a fixed window: up to maxRequests calls are granted per
// window, counted from the first request in the window. Adaptive wraps a
// Limiter and scales the effective ceiling based on the observed
// success/failure ratio, shedding load when the remote service is struggling.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stats exposes limiter counters for observability.
type Stats struct {
	// TotalRequests is the number of slots requested so far.
	TotalRequests int

	// Allowed is the number of requests that were granted a slot.
	Allowed int

	// Blocked is the number of requests that found the window saturated
	// on their first check.
	Blocked int

	// WindowCount is the number of requests granted in the current window.
	WindowCount int

	// MaxRequests is the current effective ceiling.
	MaxRequests int
}

// Limiter grants at most max requests per time window.
// Safe for concurrent use; concurrent waiters each consume exactly one slot.
type Limiter struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	count       int
	windowStart time.Time

	total   int
	allowed int
	blocked int

	now func() time.Time
}

// New creates a Limiter. Both maxRequests and window must be positive.
func New(maxRequests int, window time.Duration) (*Limiter, error) {
	if maxRequests <= 0 {
		return nil, fmt.Errorf("maxRequests must be positive, got %d", maxRequests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}
	return &Limiter{
		max:    maxRequests,
		window: window,
		now:    time.Now,
	}, nil
}

// rollWindow resets the counter when the window has fully elapsed.
// Caller must hold mu.
func (l *Limiter) rollWindow(now time.Time) {
	if l.count > 0 && now.Sub(l.windowStart) >= l.window {
		l.count = 0
	}
}

// CanProceed reports whether a request would be granted right now.
// It does not consume a slot.
func (l *Limiter) CanProceed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollWindow(l.now())
	return l.count < l.max
}

// RecordRequest consumes one slot in the current window.
// The window starts at the first recorded request.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollWindow(now)
	if l.count == 0 {
		l.windowStart = now
	}
	l.count++
	l.total++
	l.allowed++
}

// tryAcquire attempts to take a slot. first indicates whether this is the
// caller's initial attempt, so blocked is counted at most once per caller.
func (l *Limiter) tryAcquire(first bool) (ok bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollWindow(now)

	if first {
		l.total++
	}

	if l.count < l.max {
		if l.count == 0 {
			l.windowStart = now
		}
		l.count++
		l.allowed++
		return true, 0
	}

	if first {
		l.blocked++
	}
	return false, l.windowStart.Add(l.window).Sub(now)
}

// Wait blocks until a slot is available, then consumes it.
// Returns the context error if ctx is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	first := true
	for {
		ok, wait := l.tryAcquire(first)
		if ok {
			return nil
		}
		first = false

		if wait <= 0 {
			// Window just rolled; re-check immediately.
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// WaitTime reports how long until the next slot opens. Zero means a request
// would be granted immediately.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollWindow(now)
	if l.count < l.max {
		return 0
	}
	wait := l.windowStart.Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Stats returns a snapshot of the limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollWindow(l.now())
	return Stats{
		TotalRequests: l.total,
		Allowed:       l.allowed,
		Blocked:       l.blocked,
		WindowCount:   l.count,
		MaxRequests:   l.max,
	}
}

// setMax adjusts the ceiling. Used by the adaptive wrapper.
func (l *Limiter) setMax(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > 0 {
		l.max = n
	}
}

// Max returns the current effective ceiling.
func (l *Limiter) Max() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max
}

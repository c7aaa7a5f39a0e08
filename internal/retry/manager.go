// Package retry wraps remote operations with bounded retries, exponential
// backoff with jitter, and a per-operation-key circuit breaker.
//
// All outcomes are reported through the returned Result; Do never panics and
// never propagates a panic raised inside the wrapped operation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"issuesync/internal/events"
)

// ErrCircuitOpen is returned when the breaker for an operation key is open
// and the call was rejected without any attempt being made.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Config controls retry and circuit breaker behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay between successive retries.
	BackoffMultiplier float64

	// Jitter adds up to 50% uniform random slack to each delay.
	Jitter bool

	// BreakerThreshold is the number of consecutive exhausted executions
	// after which the breaker opens.
	BreakerThreshold int

	// BreakerTimeout is how long an open breaker rejects calls before
	// allowing a probe attempt.
	BreakerTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		BreakerThreshold:  5,
		BreakerTimeout:    60 * time.Second,
	}
}

// Attempt records one try of the wrapped operation.
type Attempt struct {
	// Index is 0 for the first try.
	Index int

	// Delay is the backoff waited before this attempt (zero for the first).
	Delay time.Duration

	// Error is the failure message, empty on success.
	Error string
}

// Result aggregates all attempts of one execution.
type Result struct {
	Success     bool
	Attempts    []Attempt
	Err         error
	Duration    time.Duration
	CircuitOpen bool
}

// BreakerStats is a snapshot of one key's circuit breaker.
type BreakerStats struct {
	Open         bool
	FailureCount int
	OpenedAt     time.Time
}

// PermanentError marks a failure that must not be retried (validation
// errors, permission denials). The wrapped error is reported as-is.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the manager stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type breaker struct {
	failures int
	open     bool
	openedAt time.Time
}

// Manager executes operations with retry and circuit breaking.
// Breaker state is shared across concurrent calls under the same key and
// updated atomically under the manager's lock.
type Manager struct {
	defaults Config
	bus      events.Bus
	logger   *log.Logger

	mu       sync.Mutex
	breakers map[string]*breaker

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Manager with the given defaults. A nil bus disables event
// emission; a nil logger falls back to stderr.
func New(defaults Config, bus events.Bus, logger *log.Logger) *Manager {
	if defaults.MaxRetries < 0 {
		defaults.MaxRetries = 0
	}
	if defaults.BackoffMultiplier <= 0 {
		defaults.BackoffMultiplier = 2.0
	}
	if bus == nil {
		bus = events.Nop()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[retry] ", log.LstdFlags)
	}
	return &Manager{
		defaults: defaults,
		bus:      bus,
		logger:   logger,
		breakers: make(map[string]*breaker),
		sleep:    ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes op under the manager's default configuration.
func (m *Manager) Do(ctx context.Context, key string, op func(ctx context.Context) error) *Result {
	return m.DoWithConfig(ctx, key, op, m.defaults)
}

// DoWithTimeout executes op with each individual attempt bounded by timeout.
// An attempt that overruns is treated as a failure and goes through the same
// backoff and circuit breaker logic.
func (m *Manager) DoWithTimeout(ctx context.Context, key string, timeout time.Duration, op func(ctx context.Context) error) *Result {
	return m.DoWithTimeoutAndConfig(ctx, key, timeout, op, m.defaults)
}

// DoWithTimeoutAndConfig is DoWithTimeout with explicit configuration
// overrides.
func (m *Manager) DoWithTimeoutAndConfig(ctx context.Context, key string, timeout time.Duration, op func(ctx context.Context) error, cfg Config) *Result {
	bounded := func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- invoke(attemptCtx, op)
		}()

		select {
		case err := <-done:
			return err
		case <-attemptCtx.Done():
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("attempt timed out after %v", timeout)
			}
			return attemptCtx.Err()
		}
	}
	return m.DoWithConfig(ctx, key, bounded, cfg)
}

// DoWithConfig executes op with explicit configuration overrides.
func (m *Manager) DoWithConfig(ctx context.Context, key string, op func(ctx context.Context) error, cfg Config) *Result {
	start := time.Now()
	res := &Result{}

	if !m.admit(key, cfg) {
		res.CircuitOpen = true
		res.Err = fmt.Errorf("%w for %q", ErrCircuitOpen, key)
		res.Duration = time.Since(start)
		return res
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		var delay time.Duration
		if attempt > 0 {
			delay = backoffDelay(cfg, attempt-1)
			if err := m.sleep(ctx, delay); err != nil {
				lastErr = err
				res.Attempts = append(res.Attempts, Attempt{Index: attempt, Delay: delay, Error: err.Error()})
				break
			}
		}

		err := invoke(ctx, op)
		if err == nil {
			res.Attempts = append(res.Attempts, Attempt{Index: attempt, Delay: delay})
			res.Success = true
			res.Duration = time.Since(start)
			m.recordSuccess(key)
			m.bus.Publish(events.Event{Type: events.TypeRetrySucceeded, Key: key, Data: map[string]any{
				"attempts": len(res.Attempts),
			}})
			return res
		}

		lastErr = err
		res.Attempts = append(res.Attempts, Attempt{Index: attempt, Delay: delay, Error: err.Error()})
		m.bus.Publish(events.Event{Type: events.TypeRetryAttempt, Key: key, Data: map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}})

		var perm *PermanentError
		if errors.As(err, &perm) {
			m.logger.Printf("Not retrying %q: permanent error: %v", key, perm.Err)
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	res.Err = lastErr
	res.Duration = time.Since(start)
	// Caller cancellation says nothing about the remote's health and does
	// not count toward the breaker.
	if ctx.Err() == nil {
		m.recordFailure(key, cfg)
	}
	m.bus.Publish(events.Event{Type: events.TypeRetryExhausted, Key: key, Data: map[string]any{
		"attempts": len(res.Attempts),
		"error":    errString(lastErr),
	}})
	return res
}

// invoke runs op and converts a panic into an error so a misbehaving
// operation can never crash the manager.
func invoke(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// backoffDelay computes min(base * multiplier^attemptIndex, max) with
// optional jitter of up to 50%.
func backoffDelay(cfg Config, attemptIndex int) time.Duration {
	delay := float64(cfg.BaseDelay)
	for i := 0; i < attemptIndex; i++ {
		delay *= cfg.BackoffMultiplier
	}
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > max {
		delay = max
	}
	d := time.Duration(delay)
	if cfg.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/2 + 1))
		if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
			d = cfg.MaxDelay
		}
	}
	return d
}

// admit reports whether a call under key may proceed. An open breaker
// rejects calls until its timeout elapses, after which one probe is allowed.
func (m *Manager) admit(key string, cfg Config) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[key]
	if !ok || !b.open {
		return true
	}
	if cfg.BreakerTimeout > 0 && time.Since(b.openedAt) >= cfg.BreakerTimeout {
		// Allow a probe; the breaker stays open until the probe succeeds.
		return true
	}
	return false
}

func (m *Manager) recordSuccess(key string) {
	m.mu.Lock()
	b, ok := m.breakers[key]
	wasOpen := ok && b.open
	if ok {
		b.failures = 0
		b.open = false
		b.openedAt = time.Time{}
	}
	m.mu.Unlock()

	if wasOpen {
		m.logger.Printf("Circuit closed for %q", key)
		m.bus.Publish(events.Event{Type: events.TypeCircuitClosed, Key: key})
	}
}

func (m *Manager) recordFailure(key string, cfg Config) {
	m.mu.Lock()
	b, ok := m.breakers[key]
	if !ok {
		b = &breaker{}
		m.breakers[key] = b
	}
	b.failures++
	opened := false
	if cfg.BreakerThreshold > 0 && b.failures >= cfg.BreakerThreshold && !b.open {
		b.open = true
		b.openedAt = time.Now()
		opened = true
	} else if b.open {
		// Failed probe: keep the breaker open and restart the cooldown.
		b.openedAt = time.Now()
	}
	failures := b.failures
	m.mu.Unlock()

	if opened {
		m.logger.Printf("Circuit opened for %q after %d consecutive failures", key, failures)
		m.bus.Publish(events.Event{Type: events.TypeCircuitOpened, Key: key, Data: map[string]any{
			"failures": failures,
		}})
	}
}

// BreakerStats returns the breaker snapshot for key. Unknown keys report a
// closed breaker with zero failures.
func (m *Manager) BreakerStats(key string) BreakerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[key]
	if !ok {
		return BreakerStats{}
	}
	return BreakerStats{Open: b.open, FailureCount: b.failures, OpenedAt: b.openedAt}
}

// ResetBreaker clears all breaker state for key unconditionally.
func (m *Manager) ResetBreaker(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, key)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

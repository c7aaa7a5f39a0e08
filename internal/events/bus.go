// Package events provides the notification bus used for observability.
//
// Components publish domain events (change queued, retry exhausted, circuit
// opened, sync completed) through an injected Bus. Event delivery is
// best-effort: a slow or absent subscriber never affects the publisher.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of domain event.
type Type string

const (
	// TypeChangeQueued indicates a local change was added to the outbound queue.
	TypeChangeQueued Type = "change_queued"

	// TypeChangeProcessed indicates a queued change was pushed successfully.
	TypeChangeProcessed Type = "change_processed"

	// TypeChangeFailed indicates a queued change exhausted its retries.
	TypeChangeFailed Type = "change_failed"

	// TypeRetryAttempt indicates a retried operation attempt failed.
	TypeRetryAttempt Type = "retry_attempt"

	// TypeRetrySucceeded indicates a retried operation eventually succeeded.
	TypeRetrySucceeded Type = "retry_succeeded"

	// TypeRetryExhausted indicates a retried operation ran out of attempts.
	TypeRetryExhausted Type = "retry_exhausted"

	// TypeCircuitOpened indicates a circuit breaker tripped open.
	TypeCircuitOpened Type = "circuit_opened"

	// TypeCircuitClosed indicates a circuit breaker closed after a success.
	TypeCircuitClosed Type = "circuit_closed"

	// TypeSyncStarted indicates a synchronization cycle began.
	TypeSyncStarted Type = "sync_started"

	// TypeSyncCompleted indicates a synchronization cycle finished.
	TypeSyncCompleted Type = "sync_completed"

	// TypeConflictDetected indicates a field-level conflict was found.
	TypeConflictDetected Type = "conflict_detected"

	// TypeRateAdapted indicates the adaptive rate limiter changed its ceiling.
	TypeRateAdapted Type = "rate_adapted"
)

// Event is a single domain event.
type Event struct {
	Type Type           `json:"type"`
	Time time.Time      `json:"time"`
	Key  string         `json:"key,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Bus receives domain events. Implementations must never block the caller
// and must never return delivery failures to it.
type Bus interface {
	Publish(e Event)
}

// nopBus discards all events.
type nopBus struct{}

func (nopBus) Publish(Event) {}

// Nop returns a Bus that discards everything. Useful as a default when no
// observer is wired in.
func Nop() Bus {
	return nopBus{}
}

// Broadcaster fans events out to any number of subscribers.
// Each subscriber gets a buffered channel; events are dropped for a
// subscriber whose buffer is full rather than blocking the publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Publish delivers the event to all current subscribers without blocking.
func (b *Broadcaster) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is falling behind; drop rather than block.
		}
	}
}

// Subscribe registers a new subscriber with the given channel buffer size.
// The returned cancel function removes the subscription and closes the
// channel. It is safe to call cancel more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)

	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

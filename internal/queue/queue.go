package queue

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"issuesync/internal/events"
)

// DefaultBackoff is the default per-item retry backoff table. Retry counts
// beyond the last entry use the last entry.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// DefaultMaxRetries is the default per-item attempt ceiling.
const DefaultMaxRetries = 3

// Options configures a Queue.
type Options struct {
	// MaxRetries is the attempt ceiling assigned to new changes.
	// Zero means DefaultMaxRetries.
	MaxRetries int

	// Backoff is the per-item retry delay table. Nil means DefaultBackoff.
	Backoff []time.Duration

	// Bus receives queued/processed/failed notifications. Nil disables.
	Bus events.Bus

	// Logger for persistence faults. Nil falls back to stderr.
	Logger *log.Logger
}

// Stats summarizes queue occupancy for observability.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	InBackoff int `json:"in_backoff"`
}

// Queue is the durable, per-key-deduplicated buffer of outbound changes.
// Safe for concurrent use; Add may be called while a sync cycle is draining
// the queue.
type Queue struct {
	mu      sync.Mutex
	changes []*Change
	store   Store

	maxRetries int
	backoff    []time.Duration
	bus        events.Bus
	logger     *log.Logger
	now        func() time.Time
}

// New creates a Queue backed by store and loads any persisted changes.
// A corrupt or missing snapshot yields an empty queue, never an error.
func New(store Store, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}
	if opts.Bus == nil {
		opts.Bus = events.Nop()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}

	q := &Queue{
		store:      store,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		bus:        opts.Bus,
		logger:     opts.Logger,
		now:        time.Now,
	}
	q.load()
	return q
}

// load restores the queue from the store. Failures leave the queue empty.
func (q *Queue) load() {
	data, err := q.store.Load()
	if err != nil {
		q.logger.Printf("Warning: failed to load queue, starting empty: %v", err)
		return
	}
	if len(data) == 0 {
		return
	}

	var changes []*Change
	if err := json.Unmarshal(data, &changes); err != nil {
		q.logger.Printf("Warning: corrupt queue snapshot, starting empty: %v", err)
		return
	}
	for _, c := range changes {
		if c.Fields == nil {
			c.Fields = make(map[string]any)
		}
	}
	q.changes = changes
}

// persistLocked serializes the whole queue to the store.
// I/O errors are logged, never propagated. Caller must hold the lock.
func (q *Queue) persistLocked() {
	data, err := json.Marshal(q.changes)
	if err != nil {
		q.logger.Printf("Warning: failed to serialize queue: %v", err)
		return
	}
	if err := q.store.Save(data); err != nil {
		q.logger.Printf("Warning: failed to persist queue: %v", err)
	}
}

func (q *Queue) findLocked(id string) (int, *Change) {
	for i, c := range q.changes {
		if c.ID == id {
			return i, c
		}
	}
	return -1, nil
}

// Add queues a change for key. If a change for key is already pending, the
// incoming field values are merged over the existing entry (last writer wins
// per field) and the existing id and creation time are kept.
func (q *Queue) Add(key string, fields map[string]any) Change {
	q.mu.Lock()

	var target *Change
	for _, c := range q.changes {
		if c.Key == key {
			target = c
			break
		}
	}

	if target != nil {
		if target.Exhausted() {
			// A fresh edit supersedes the failed attempts; the merged
			// change gets a clean retry budget.
			target.RetryCount = 0
			target.LastAttemptAt = nil
			target.LastError = ""
		}
		target.Revision++
		if target.fieldRev == nil {
			target.fieldRev = make(map[string]int64)
		}
		for name, value := range fields {
			target.Fields[name] = value
			target.fieldRev[name] = target.Revision
		}
	} else {
		target = &Change{
			ID:         uuid.NewString(),
			Key:        key,
			Fields:     make(map[string]any, len(fields)),
			CreatedAt:  q.now(),
			MaxRetries: q.maxRetries,
		}
		for name, value := range fields {
			target.Fields[name] = value
		}
		q.changes = append(q.changes, target)
	}

	q.persistLocked()
	out := target.clone()
	q.mu.Unlock()

	q.bus.Publish(events.Event{Type: events.TypeChangeQueued, Key: key, Data: map[string]any{
		"id":     out.ID,
		"fields": len(out.Fields),
	}})
	return out
}

// backoffDelay returns the delay required after retryCount failed attempts.
func (q *Queue) backoffDelay(retryCount int) time.Duration {
	if len(q.backoff) == 0 {
		return 0
	}
	idx := retryCount
	if idx >= len(q.backoff) {
		idx = len(q.backoff) - 1
	}
	return q.backoff[idx]
}

// Pending returns the changes eligible for processing right now: not
// exhausted, and past their backoff delay since the last attempt.
func (q *Queue) Pending() []Change {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Change
	for _, c := range q.changes {
		if c.Exhausted() {
			continue
		}
		if c.LastAttemptAt != nil && now.Sub(*c.LastAttemptAt) < q.backoffDelay(c.RetryCount) {
			continue
		}
		out = append(out, c.clone())
	}
	return out
}

// MarkProcessed records a successful push of the snapshot taken at the
// given revision. If no merge landed since the snapshot the change is
// removed; otherwise the entry stays queued holding only the values merged
// after the snapshot, with its retry bookkeeping reset. Returns false if no
// such change exists.
func (q *Queue) MarkProcessed(id string, revision int64) bool {
	q.mu.Lock()

	i, c := q.findLocked(id)
	if c == nil {
		q.mu.Unlock()
		return false
	}

	if c.Revision != revision {
		kept := make(map[string]any)
		keptRev := make(map[string]int64)
		for name, rev := range c.fieldRev {
			if rev > revision {
				kept[name] = c.Fields[name]
				keptRev[name] = rev
			}
		}
		if len(kept) == 0 {
			// Tracking was lost (reloaded entry); keep everything rather
			// than drop an unpushed value.
			kept = c.Fields
			keptRev = nil
		}
		c.Fields = kept
		c.fieldRev = keptRev
		c.RetryCount = 0
		c.LastAttemptAt = nil
		c.LastError = ""
		q.persistLocked()
		key, remaining := c.Key, len(c.Fields)
		q.mu.Unlock()

		q.bus.Publish(events.Event{Type: events.TypeChangeProcessed, Key: key, Data: map[string]any{
			"id":              id,
			"requeued_fields": remaining,
		}})
		return true
	}

	q.changes = append(q.changes[:i], q.changes[i+1:]...)
	q.persistLocked()
	key := c.Key
	q.mu.Unlock()

	q.bus.Publish(events.Event{Type: events.TypeChangeProcessed, Key: key, Data: map[string]any{
		"id": id,
	}})
	return true
}

// IncrementRetry records a failed push attempt for the change with the given
// id. When the increment crosses the max-retries threshold a failure event
// is emitted exactly once; subsequent increments stay silent. Returns false
// if no such change exists.
func (q *Queue) IncrementRetry(id string, opErr error) bool {
	q.mu.Lock()

	_, c := q.findLocked(id)
	if c == nil {
		q.mu.Unlock()
		return false
	}

	wasExhausted := c.Exhausted()
	c.RetryCount++
	now := q.now()
	c.LastAttemptAt = &now
	if opErr != nil {
		c.LastError = opErr.Error()
	}
	crossed := !wasExhausted && c.Exhausted()
	q.persistLocked()
	key, retries, lastErr := c.Key, c.RetryCount, c.LastError
	q.mu.Unlock()

	if crossed {
		q.logger.Printf("Change %s for %s failed permanently after %d attempts: %s", id, key, retries, lastErr)
		q.bus.Publish(events.Event{Type: events.TypeChangeFailed, Key: key, Data: map[string]any{
			"id":      id,
			"retries": retries,
			"error":   lastErr,
		}})
	}
	return true
}

// Failed returns the changes that have exhausted their retries. They are
// retained for operator inspection until cleared or retried explicitly.
func (q *Queue) Failed() []Change {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Change
	for _, c := range q.changes {
		if c.Exhausted() {
			out = append(out, c.clone())
		}
	}
	return out
}

// All returns every change currently in the queue.
func (q *Queue) All() []Change {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Change, 0, len(q.changes))
	for _, c := range q.changes {
		out = append(out, c.clone())
	}
	return out
}

// RetryFailed resets the retry bookkeeping of all exhausted changes so they
// become eligible for processing again.
func (q *Queue) RetryFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, c := range q.changes {
		if c.Exhausted() {
			c.RetryCount = 0
			c.LastAttemptAt = nil
			c.LastError = ""
			n++
		}
	}
	if n > 0 {
		q.persistLocked()
	}
	return n
}

// Clear removes every change from the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.changes = nil
	q.persistLocked()
}

// ClearFailed removes only the exhausted changes.
func (q *Queue) ClearFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.changes[:0]
	removed := 0
	for _, c := range q.changes {
		if c.Exhausted() {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	q.changes = kept
	if removed > 0 {
		q.persistLocked()
	}
	return removed
}

// Stats returns queue occupancy counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	s := Stats{Total: len(q.changes)}
	for _, c := range q.changes {
		switch {
		case c.Exhausted():
			s.Failed++
		case c.LastAttemptAt != nil && now.Sub(*c.LastAttemptAt) < q.backoffDelay(c.RetryCount):
			s.InBackoff++
		default:
			s.Pending++
		}
	}
	return s
}

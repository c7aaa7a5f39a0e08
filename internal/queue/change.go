// Package queue provides the durable, deduplicated buffer of pending
// local-to-remote mutations.
//
// The queue keeps at most one live change per record key: adding a change
// for a key that already has a pending entry merges the incoming field
// values over the existing ones and keeps the original id. The whole queue
// is persisted to the configured Store on every mutating call; persistence
// faults are logged and swallowed, leaving the in-memory queue authoritative
// for the process lifetime.
package queue

import "time"

// Change is one pending local mutation awaiting push to the remote system.
type Change struct {
	// ID uniquely identifies this change.
	ID string `json:"id"`

	// Key is the target record key.
	Key string `json:"key"`

	// Fields maps changed field names to their new values.
	Fields map[string]any `json:"fields"`

	// Revision increments each time field values are merged into an
	// already-queued change. A completed push only removes the entry if
	// the revision still matches the snapshot it pushed.
	Revision int64 `json:"revision"`

	// CreatedAt is when the change was first queued.
	CreatedAt time.Time `json:"created_at"`

	// RetryCount is how many push attempts have failed so far.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the attempt ceiling for this change.
	MaxRetries int `json:"max_retries"`

	// LastAttemptAt is when the last push attempt was made, if any.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// LastError is the message from the last failed attempt.
	LastError string `json:"last_error,omitempty"`

	// fieldRev tracks the revision at which each field was last written,
	// so a stale MarkProcessed can retain only the values merged after
	// its snapshot. In-memory only; after a reload the whole entry is
	// still queued, which makes the tracking unnecessary.
	fieldRev map[string]int64
}

// Exhausted reports whether the change has used up its retries.
func (c *Change) Exhausted() bool {
	return c.RetryCount >= c.MaxRetries
}

func (c *Change) clone() Change {
	out := *c
	out.Fields = make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		out.Fields[k] = v
	}
	if c.LastAttemptAt != nil {
		t := *c.LastAttemptAt
		out.LastAttemptAt = &t
	}
	out.fieldRev = nil
	return out
}

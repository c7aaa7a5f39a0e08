// Package sync implements the synchronization engine between the remote
// issue tracker and the local record store.
//
// One Sync cycle pulls remote records, reconciles them against local state
// with field-level conflict detection, applies the configured resolution
// policy, and pushes queued local changes back through the rate limiter and
// retry manager. Sync never panics and never returns a bare error: every
// outcome is reported in the returned Result.
package sync

import (
	"time"
)

// ConflictKind classifies a detected conflict.
type ConflictKind string

// KindConcurrentEdit marks a field changed on both sides since the last
// synchronization.
const KindConcurrentEdit ConflictKind = "concurrent-edit"

// Conflict is a field-level divergence between the local and remote
// versions of one record. Conflicts are ephemeral: they are produced during
// the pull phase and consumed by the resolution step of the same cycle.
type Conflict struct {
	Key             string       `json:"key"`
	Field           string       `json:"field"`
	LocalValue      any          `json:"local_value"`
	RemoteValue     any          `json:"remote_value"`
	LocalUpdatedAt  time.Time    `json:"local_updated_at"`
	RemoteUpdatedAt time.Time    `json:"remote_updated_at"`
	Kind            ConflictKind `json:"kind"`
}

// Result is the outcome of one Sync invocation.
type Result struct {
	// Success is true when the cycle completed without any errors.
	Success bool `json:"success"`

	// Synced counts records reconciled or pushed successfully.
	Synced int `json:"synced"`

	// Failed counts records that could not be reconciled or pushed.
	Failed int `json:"failed"`

	// Conflicts lists every field conflict encountered during the pull.
	Conflicts []Conflict `json:"conflicts,omitempty"`

	// Errors lists the error messages collected during the cycle.
	Errors []string `json:"errors,omitempty"`

	// Duration is the wall-clock time of the cycle.
	Duration time.Duration `json:"duration"`
}

func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

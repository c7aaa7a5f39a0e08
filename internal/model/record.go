// Package model provides the shared data structures for issue records.
package model

import (
	"fmt"
	"time"
)

// Record is a snapshot of one synchronized issue record.
// Fields is a flat name/value map so that individual properties can be
// compared, merged, and pushed independently. Timestamps drive conflict
// resolution between local and remote versions.
type Record struct {
	// Key is the stable record identifier (e.g. "ABC-1").
	Key string `json:"key"`

	// Fields holds the record properties by field name.
	Fields map[string]any `json:"fields"`

	// UpdatedAt is when this version of the record was last modified.
	UpdatedAt time.Time `json:"updated_at"`

	// Dirty marks a local record with edits that have not been pushed.
	Dirty bool `json:"dirty,omitempty"`
}

// Validate checks that the record has usable field values.
func (r *Record) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("key is required")
	}
	if r.Fields == nil {
		return fmt.Errorf("fields map is required")
	}
	return nil
}

// Clone returns a deep-enough copy for the engine's purposes: the field map
// is copied, field values are shared.
func (r *Record) Clone() *Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return &Record{
		Key:       r.Key,
		Fields:    fields,
		UpdatedAt: r.UpdatedAt,
		Dirty:     r.Dirty,
	}
}

// Filename returns the canonical filename for this record: {key}.json
func (r *Record) Filename() string {
	return fmt.Sprintf("%s.json", r.Key)
}

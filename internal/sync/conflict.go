package sync

import (
	"reflect"
	"sort"

	"issuesync/internal/model"
)

// Detector compares a local record snapshot against the freshly fetched
// remote version and reports per-field divergence.
//
// A field is in conflict only when the local record carries unsynced edits
// (Dirty) and the two sides disagree on the value. A clean local record
// never conflicts: the remote version is simply authoritative and the
// engine overwrites local state with it. The remote timestamp is carried on
// the conflict for ordering, but a newer remote timestamp alone does not
// suppress the conflict when local edits exist.
type Detector struct{}

// Detect returns all divergent fields between local and remote, ordered by
// field name, or nil when there is no conflict.
func (Detector) Detect(local, remote *model.Record) []Conflict {
	if local == nil || remote == nil {
		return nil
	}
	if !local.Dirty {
		return nil
	}

	var fields []string
	for name := range local.Fields {
		if _, ok := remote.Fields[name]; ok {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)

	var conflicts []Conflict
	for _, name := range fields {
		lv := local.Fields[name]
		rv := remote.Fields[name]
		if valuesEqual(lv, rv) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Key:             local.Key,
			Field:           name,
			LocalValue:      lv,
			RemoteValue:     rv,
			LocalUpdatedAt:  local.UpdatedAt,
			RemoteUpdatedAt: remote.UpdatedAt,
			Kind:            KindConcurrentEdit,
		})
	}
	return conflicts
}

// valuesEqual compares field values structurally. JSON round-trips turn
// ints into float64s, so numeric values are compared by magnitude.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

package daemon

import (
	"reflect"

	"issuesync/internal/model"
)

// diffFields returns the fields of current that differ from the indexed
// snapshot. When no snapshot exists every field counts as changed.
func diffFields(prev *model.Record, found bool, current map[string]any) map[string]any {
	changed := make(map[string]any)

	if !found || prev == nil {
		for name, value := range current {
			changed[name] = value
		}
		return changed
	}

	for name, value := range current {
		old, ok := prev.Fields[name]
		if !ok || !fieldEqual(old, value) {
			changed[name] = value
		}
	}
	return changed
}

// fieldEqual compares field values. Numbers are compared by magnitude
// because JSON decoding yields float64 for every numeric literal.
func fieldEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

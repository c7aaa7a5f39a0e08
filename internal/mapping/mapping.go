// Package mapping translates between remote field names and local property
// names, with an optional value transform per rule.
//
// Transforms are a closed set of named variants dispatched by configuration;
// no user-provided code is ever evaluated.
package mapping

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Transform names a value transformation applied when mapping a remote
// value to its local representation. The inverse is applied when pushing.
type Transform string

const (
	// TransformNone passes the value through unchanged.
	TransformNone Transform = ""

	// TransformLowercase lowercases string values.
	TransformLowercase Transform = "lowercase"

	// TransformUppercase uppercases string values.
	TransformUppercase Transform = "uppercase"

	// TransformCSVList splits a comma-separated string into a list
	// locally and joins it back when pushing.
	TransformCSVList Transform = "csv-list"

	// TransformDateTime normalizes timestamp strings to RFC 3339.
	TransformDateTime Transform = "datetime"
)

// Rule maps one remote field to one local property.
type Rule struct {
	Remote    string    `toml:"remote"`
	Local     string    `toml:"local"`
	Transform Transform `toml:"transform"`
}

type fileFormat struct {
	Rules []Rule `toml:"rule"`
}

// Mapper applies a rule set in either direction. Fields without a rule pass
// through with their original name and value.
type Mapper struct {
	byRemote map[string]Rule
	byLocal  map[string]Rule
}

// Load reads a rule set from a TOML file.
func Load(path string) (*Mapper, error) {
	var f fileFormat
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to load mapping file %s: %w", path, err)
	}
	return NewMapper(f.Rules)
}

// NewMapper validates the rules and builds a Mapper.
func NewMapper(rules []Rule) (*Mapper, error) {
	m := &Mapper{
		byRemote: make(map[string]Rule, len(rules)),
		byLocal:  make(map[string]Rule, len(rules)),
	}
	for i, r := range rules {
		if r.Remote == "" || r.Local == "" {
			return nil, fmt.Errorf("rule %d: remote and local names are required", i)
		}
		switch r.Transform {
		case TransformNone, TransformLowercase, TransformUppercase, TransformCSVList, TransformDateTime:
		default:
			return nil, fmt.Errorf("rule %d: unknown transform %q", i, r.Transform)
		}
		if _, dup := m.byRemote[r.Remote]; dup {
			return nil, fmt.Errorf("rule %d: duplicate remote field %q", i, r.Remote)
		}
		if _, dup := m.byLocal[r.Local]; dup {
			return nil, fmt.Errorf("rule %d: duplicate local property %q", i, r.Local)
		}
		m.byRemote[r.Remote] = r
		m.byLocal[r.Local] = r
	}
	return m, nil
}

// ToLocal maps a remote field map to local property names and values.
func (m *Mapper) ToLocal(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		if rule, ok := m.byRemote[name]; ok {
			out[rule.Local] = applyForward(rule.Transform, value)
		} else {
			out[name] = value
		}
	}
	return out
}

// ToRemote maps a local property map back to remote field names and values.
func (m *Mapper) ToRemote(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		if rule, ok := m.byLocal[name]; ok {
			out[rule.Remote] = applyReverse(rule.Transform, value)
		} else {
			out[name] = value
		}
	}
	return out
}

func applyForward(t Transform, v any) any {
	switch t {
	case TransformLowercase:
		if s, ok := v.(string); ok {
			return strings.ToLower(s)
		}
	case TransformUppercase:
		if s, ok := v.(string); ok {
			return strings.ToUpper(s)
		}
	case TransformCSVList:
		if s, ok := v.(string); ok {
			if s == "" {
				return []string{}
			}
			parts := strings.Split(s, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	case TransformDateTime:
		if s, ok := v.(string); ok {
			if t, err := parseTimestamp(s); err == nil {
				return t.Format(time.RFC3339)
			}
		}
	}
	return v
}

func applyReverse(t Transform, v any) any {
	switch t {
	case TransformCSVList:
		switch list := v.(type) {
		case []string:
			return strings.Join(list, ", ")
		case []any:
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			return strings.Join(parts, ", ")
		}
	}
	// Case transforms are lossy and not reversed; datetime stays RFC 3339.
	return v
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

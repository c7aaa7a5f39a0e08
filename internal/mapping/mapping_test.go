package mapping

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.toml")
	content := `
[[rule]]
remote = "customfield_10001"
local = "story_points"

[[rule]]
remote = "labels"
local = "tags"
transform = "csv-list"

[[rule]]
remote = "status"
local = "state"
transform = "lowercase"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	out := m.ToLocal(map[string]any{
		"customfield_10001": float64(5),
		"status":            "In Progress",
	})
	if out["story_points"] != float64(5) {
		t.Errorf("story_points = %v", out["story_points"])
	}
	if out["state"] != "in progress" {
		t.Errorf("state = %v, want lowercased", out["state"])
	}
}

func TestNewMapperValidation(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"missing remote", []Rule{{Local: "x"}}},
		{"missing local", []Rule{{Remote: "y"}}},
		{"unknown transform", []Rule{{Remote: "a", Local: "b", Transform: "rot13"}}},
		{"duplicate remote", []Rule{{Remote: "a", Local: "b"}, {Remote: "a", Local: "c"}}},
		{"duplicate local", []Rule{{Remote: "a", Local: "b"}, {Remote: "c", Local: "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMapper(tt.rules); err == nil {
				t.Error("NewMapper succeeded, want error")
			}
		})
	}
}

func TestUnmappedFieldsPassThrough(t *testing.T) {
	m, err := NewMapper([]Rule{{Remote: "status", Local: "state"}})
	if err != nil {
		t.Fatal(err)
	}

	out := m.ToLocal(map[string]any{"status": "open", "summary": "hello"})
	if out["state"] != "open" {
		t.Errorf("state = %v", out["state"])
	}
	if out["summary"] != "hello" {
		t.Errorf("unmapped field dropped or altered: %v", out)
	}
}

func TestCSVListRoundTrip(t *testing.T) {
	m, err := NewMapper([]Rule{{Remote: "labels", Local: "tags", Transform: TransformCSVList}})
	if err != nil {
		t.Fatal(err)
	}

	local := m.ToLocal(map[string]any{"labels": "bug, backend,urgent"})
	want := []string{"bug", "backend", "urgent"}
	if !reflect.DeepEqual(local["tags"], want) {
		t.Fatalf("tags = %v, want %v", local["tags"], want)
	}

	back := m.ToRemote(map[string]any{"tags": want})
	if back["labels"] != "bug, backend, urgent" {
		t.Errorf("labels = %v", back["labels"])
	}
}

func TestCSVListEmptyString(t *testing.T) {
	m, _ := NewMapper([]Rule{{Remote: "labels", Local: "tags", Transform: TransformCSVList}})

	out := m.ToLocal(map[string]any{"labels": ""})
	list, ok := out["tags"].([]string)
	if !ok || len(list) != 0 {
		t.Errorf("tags = %v, want empty list", out["tags"])
	}
}

func TestDateTimeNormalizesToRFC3339(t *testing.T) {
	m, _ := NewMapper([]Rule{{Remote: "duedate", Local: "due", Transform: TransformDateTime}})

	out := m.ToLocal(map[string]any{"duedate": "2026-08-15"})
	if out["due"] != "2026-08-15T00:00:00Z" {
		t.Errorf("due = %v", out["due"])
	}
}

func TestCaseTransformsAreNotReversed(t *testing.T) {
	m, _ := NewMapper([]Rule{{Remote: "status", Local: "state", Transform: TransformUppercase}})

	local := m.ToLocal(map[string]any{"status": "open"})
	if local["state"] != "OPEN" {
		t.Fatalf("state = %v", local["state"])
	}

	// Pushing back keeps the value as-is; the transform is lossy.
	back := m.ToRemote(map[string]any{"state": "OPEN"})
	if back["status"] != "OPEN" {
		t.Errorf("status = %v", back["status"])
	}
}

func TestNonStringValuesPassTransformUnchanged(t *testing.T) {
	m, _ := NewMapper([]Rule{{Remote: "status", Local: "state", Transform: TransformLowercase}})

	out := m.ToLocal(map[string]any{"status": float64(3)})
	if out["state"] != float64(3) {
		t.Errorf("state = %v", out["state"])
	}
}

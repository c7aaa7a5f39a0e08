// Package store provides the local record store: one JSON file per record
// plus a SQLite index for fast queries and change diffing.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"issuesync/internal/model"
)

// ReadRecordFile reads and validates a single record file.
func ReadRecordFile(path string) (*model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", path, err)
	}

	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record file %s: %w", path, err)
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record file %s: %w", path, err)
	}

	return &rec, nil
}

// WriteRecordFile writes a record to dir/{key}.json with pretty-printed
// formatting.
func WriteRecordFile(dir string, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid record: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.Key, err)
	}

	path := filepath.Join(dir, rec.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file %s: %w", path, err)
	}

	return nil
}

// ReadAllRecordFiles reads every record file in dir. Invalid files are
// skipped with a warning so one bad record never blocks the rest.
func ReadAllRecordFiles(dir string) ([]*model.Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*model.Record{}, nil
		}
		return nil, fmt.Errorf("failed to read records directory: %w", err)
	}

	var records []*model.Record
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		rec, err := ReadRecordFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid record file %s: %v\n", entry.Name(), err)
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// DeleteRecordFile removes dir/{key}.json. Missing files are not an error.
func DeleteRecordFile(dir, key string) error {
	path := filepath.Join(dir, key+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record file %s: %w", path, err)
	}
	return nil
}

// KeyFromPath extracts the record key from a record file path.
func KeyFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, ".json")
}

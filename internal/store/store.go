package store

import (
	"fmt"
	"log"
	"os"

	"issuesync/internal/model"
)

// Store combines the record file directory with the SQLite index.
// The files are the durable source of truth; the index mirrors them for
// queries and change diffing. Put updates both, keeping them consistent for
// readers that only consult the index.
type Store struct {
	dir    string
	index  *Index
	logger *log.Logger
}

// Open creates a Store over the given records directory and index database
// path. The index schema is created if needed.
func Open(dir, indexPath string, logger *log.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("records directory is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}

	index, err := OpenIndex(indexPath)
	if err != nil {
		return nil, err
	}
	if err := index.InitSchema(); err != nil {
		index.Close()
		return nil, err
	}

	return &Store{dir: dir, index: index, logger: logger}, nil
}

// Dir returns the records directory.
func (s *Store) Dir() string {
	return s.dir
}

// Index exposes the underlying query index.
func (s *Store) Index() *Index {
	return s.index
}

// Get returns the record with the given key. The second return value is
// false when the record does not exist locally.
func (s *Store) Get(key string) (*model.Record, bool, error) {
	return s.index.Get(key)
}

// Put writes the record file and updates the index.
func (s *Store) Put(rec *model.Record) error {
	if err := WriteRecordFile(s.dir, rec); err != nil {
		return err
	}
	if err := s.index.Upsert(rec); err != nil {
		return fmt.Errorf("record file written but index update failed: %w", err)
	}
	return nil
}

// Delete removes the record file and its index entry.
func (s *Store) Delete(key string) error {
	if err := DeleteRecordFile(s.dir, key); err != nil {
		return err
	}
	return s.index.Delete(key)
}

// List returns all records from the files on disk.
func (s *Store) List() ([]*model.Record, error) {
	return ReadAllRecordFiles(s.dir)
}

// Reindex rebuilds the index from the record files. Used on startup to
// recover from an index that drifted or was deleted.
func (s *Store) Reindex() error {
	records, err := ReadAllRecordFiles(s.dir)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := s.index.Upsert(rec); err != nil {
			s.logger.Printf("Warning: failed to index record %s: %v", rec.Key, err)
		}
	}
	return nil
}

// Close closes the index database.
func (s *Store) Close() error {
	return s.index.Close()
}

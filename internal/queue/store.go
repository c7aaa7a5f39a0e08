package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// Store persists the serialized queue. Load returns (nil, nil) when nothing
// has been stored yet.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// MemoryStore keeps the serialized queue in memory. Used in tests and when
// durability is explicitly disabled.
type MemoryStore struct {
	data []byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load() ([]byte, error) {
	return s.data, nil
}

// Save implements Store.
func (s *MemoryStore) Save(data []byte) error {
	s.data = append([]byte(nil), data...)
	return nil
}

// FileStore persists the serialized queue as a single JSON file, written
// atomically via a temp file rename.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path. The parent directory is created
// on the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements Store. A missing file yields (nil, nil).
func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}
	return data, nil
}

// Save implements Store.
func (s *FileStore) Save(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}
	return nil
}

var (
	bucketQueue = []byte("queue")
	keyChanges  = []byte("changes")
)

// BoltStore persists the serialized queue in a bbolt database. This is the
// default durable store.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the bbolt database at path.
// The caller must Close it when done.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueue)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load implements Store.
func (s *BoltStore) Load() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}
		if v := bucket.Get(keyChanges); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	return data, nil
}

// Save implements Store.
func (s *BoltStore) Save(data []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}
		return bucket.Put(keyChanges, data)
	})
	if err != nil {
		return fmt.Errorf("failed to save queue: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

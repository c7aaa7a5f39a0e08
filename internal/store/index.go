package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"issuesync/internal/model"
)

// Index is the SQLite query index over the record files. It holds a full
// snapshot of each record so the daemon can diff edited files against the
// last known state without refetching from the remote.
type Index struct {
	conn *sql.DB
	path string
}

// OpenIndex opens (or creates) the index database at path.
// The database runs in WAL mode for concurrent reads. The caller must call
// Close when done.
func OpenIndex(path string) (*Index, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ix := &Index{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := ix.conn.Exec(pragma); err != nil {
			_ = ix.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return ix, nil
}

// InitSchema creates the records table if it does not exist.
func (ix *Index) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key        TEXT PRIMARY KEY,
		fields     TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		dirty      INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(dirty);
	CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at);
	`
	if _, err := ix.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the index snapshot for a record.
func (ix *Index) Upsert(rec *model.Record) error {
	return ix.UpsertContext(context.Background(), rec)
}

// UpsertContext inserts or replaces a record snapshot with context support.
func (ix *Index) UpsertContext(ctx context.Context, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
	INSERT INTO records (key, fields, updated_at, dirty)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		fields = excluded.fields,
		updated_at = excluded.updated_at,
		dirty = excluded.dirty
	`
	dirty := 0
	if rec.Dirty {
		dirty = 1
	}
	_, err = ix.conn.ExecContext(ctx, query,
		rec.Key, string(fieldsJSON), rec.UpdatedAt.UTC().Format(time.RFC3339Nano), dirty)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.Key, err)
	}
	return nil
}

// Get returns the indexed snapshot for key. The second return value is
// false when the key is not in the index.
func (ix *Index) Get(key string) (*model.Record, bool, error) {
	return ix.GetContext(context.Background(), key)
}

// GetContext returns the indexed snapshot for key with context support.
func (ix *Index) GetContext(ctx context.Context, key string) (*model.Record, bool, error) {
	row := ix.conn.QueryRowContext(ctx,
		"SELECT fields, updated_at, dirty FROM records WHERE key = ?", key)

	var fieldsJSON, updatedAt string
	var dirty int
	if err := row.Scan(&fieldsJSON, &updatedAt, &dirty); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query record %s: %w", key, err)
	}

	rec := &model.Record{Key: key, Dirty: dirty != 0}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, false, fmt.Errorf("corrupt fields for record %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt timestamp for record %s: %w", key, err)
	}
	rec.UpdatedAt = t
	return rec, true, nil
}

// Delete removes a record from the index. Deleting a missing key is not an
// error.
func (ix *Index) Delete(key string) error {
	if _, err := ix.conn.Exec("DELETE FROM records WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// Keys returns all record keys in the index.
func (ix *Index) Keys() ([]string, error) {
	rows, err := ix.conn.Query("SELECT key FROM records ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Stats returns the total and dirty record counts.
func (ix *Index) Stats() (total, dirty int, err error) {
	row := ix.conn.QueryRow("SELECT COUNT(*), COALESCE(SUM(dirty), 0) FROM records")
	if err := row.Scan(&total, &dirty); err != nil {
		return 0, 0, fmt.Errorf("failed to query index stats: %w", err)
	}
	return total, dirty, nil
}

// Close closes the index database, checkpointing the WAL first.
func (ix *Index) Close() error {
	if ix.conn == nil {
		return nil
	}
	if _, err := ix.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := ix.conn.Close(); err != nil {
		return fmt.Errorf("failed to close index database: %w", err)
	}
	return nil
}

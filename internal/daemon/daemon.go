// Package daemon runs the background synchronization loop: it watches the
// records directory for local edits, diffs them against the index, queues
// outbound changes, and triggers periodic sync cycles.
package daemon

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"issuesync/internal/events"
	"issuesync/internal/queue"
	"issuesync/internal/store"
	isync "issuesync/internal/sync"
)

// Syncer runs one synchronization cycle.
type Syncer interface {
	Sync(ctx context.Context) *isync.Result
}

// Config holds daemon settings.
type Config struct {
	// SyncInterval is the period between automatic sync cycles.
	// Zero disables periodic sync; only file changes are processed.
	SyncInterval time.Duration

	// DebounceWindow is how long a changed file must stay quiet before
	// it is processed. Editors often write a file several times in
	// quick succession.
	DebounceWindow time.Duration

	// SyncOnStart runs one sync cycle immediately when the daemon starts.
	SyncOnStart bool

	Logger *log.Logger
	Bus    events.Bus
}

// DefaultConfig returns sensible daemon defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:   5 * time.Minute,
		DebounceWindow: 2 * time.Second,
		SyncOnStart:    true,
	}
}

// Daemon coordinates the file watcher, change queue, and sync engine.
type Daemon struct {
	store  *store.Store
	queue  *queue.Queue
	syncer Syncer
	cfg    Config
	logger *log.Logger
	bus    events.Bus

	mu      sync.Mutex
	pending map[string]time.Time

	wg sync.WaitGroup

	// now is overridable in tests.
	now func() time.Time
}

// New creates a Daemon. The store, queue, and syncer are required.
func New(st *store.Store, q *queue.Queue, syncer Syncer, cfg Config) *Daemon {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if cfg.Bus == nil {
		cfg.Bus = events.Nop()
	}

	return &Daemon{
		store:   st,
		queue:   q,
		syncer:  syncer,
		cfg:     cfg,
		logger:  cfg.Logger,
		bus:     cfg.Bus,
		pending: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := NewFileWatcher(d.store.Dir(), d.logger)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	d.logger.Printf("Daemon started (dir=%s interval=%v debounce=%v)",
		d.store.Dir(), d.cfg.SyncInterval, d.cfg.DebounceWindow)

	if d.cfg.SyncOnStart {
		d.runSync(ctx)
	}

	flush := time.NewTicker(d.cfg.DebounceWindow / 2)
	defer flush.Stop()

	var syncTick <-chan time.Time
	if d.cfg.SyncInterval > 0 {
		ticker := time.NewTicker(d.cfg.SyncInterval)
		defer ticker.Stop()
		syncTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Println("Daemon stopping")
			d.wg.Wait()
			return nil

		case path, ok := <-watcher.Paths():
			if !ok {
				return nil
			}
			d.mu.Lock()
			d.pending[path] = d.now()
			d.mu.Unlock()

		case <-flush.C:
			for _, path := range d.takeQuiet() {
				d.handleLocalChange(path)
			}

		case <-syncTick:
			d.runSync(ctx)
		}
	}
}

// takeQuiet removes and returns pending paths that have been untouched for
// a full debounce window.
func (d *Daemon) takeQuiet() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.cfg.DebounceWindow)
	var ready []string
	for path, last := range d.pending {
		if last.Before(cutoff) {
			ready = append(ready, path)
			delete(d.pending, path)
		}
	}
	return ready
}

// handleLocalChange reads the changed record file, diffs it against the
// indexed snapshot, and queues any divergent fields for push. The index
// row is updated to the new content and marked dirty.
//
// A file written by the sync engine itself matches the index exactly and
// produces an empty diff, so pulls never echo back into the queue.
func (d *Daemon) handleLocalChange(path string) {
	rec, err := store.ReadRecordFile(path)
	if err != nil {
		d.logger.Printf("Ignoring unreadable record file %s: %v", path, err)
		return
	}

	prev, found, err := d.store.Index().Get(rec.Key)
	if err != nil {
		d.logger.Printf("Index lookup failed for %s: %v", rec.Key, err)
		return
	}

	changed := diffFields(prev, found, rec.Fields)
	if len(changed) == 0 {
		return
	}

	d.queue.Add(rec.Key, changed)

	dirty := rec.Clone()
	dirty.Dirty = true
	if dirty.UpdatedAt.IsZero() {
		dirty.UpdatedAt = d.now()
	}
	if err := d.store.Index().Upsert(dirty); err != nil {
		d.logger.Printf("Failed to index local change for %s: %v", rec.Key, err)
		return
	}

	d.logger.Printf("Queued %d changed field(s) for %s", len(changed), rec.Key)
}

// runSync executes one cycle in the background so the event loop keeps
// absorbing file events. The engine's own guard rejects overlap.
func (d *Daemon) runSync(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		res := d.syncer.Sync(ctx)
		if !res.Success {
			d.logger.Printf("Sync cycle finished with %d error(s)", len(res.Errors))
			for _, msg := range res.Errors {
				d.logger.Printf("  %s", msg)
			}
		}
	}()
}

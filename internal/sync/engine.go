package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"issuesync/internal/events"
	"issuesync/internal/model"
	"issuesync/internal/queue"
	"issuesync/internal/remote"
	"issuesync/internal/retry"
)

// ErrSyncInProgress is reported when Sync is invoked while a cycle is
// already running. It is an expected, structured failure, not a fault.
var ErrSyncInProgress = errors.New("sync already in progress")

// Policy selects how detected conflicts are resolved.
type Policy string

const (
	// PolicyLocal queues the local value for push; local wins.
	PolicyLocal Policy = "local"

	// PolicyRemote overwrites local state with the remote version.
	PolicyRemote Policy = "remote"

	// PolicyManual surfaces the conflict without resolving it.
	PolicyManual Policy = "manual"
)

// LocalStore is the local record read/write interface the engine depends on.
type LocalStore interface {
	Get(key string) (*model.Record, bool, error)
	Put(rec *model.Record) error
}

// Limiter gates outbound remote calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Retrier wraps remote calls with retry and circuit breaking.
type Retrier interface {
	Do(ctx context.Context, key string, op func(ctx context.Context) error) *retry.Result
}

// Outcomes receives the success/failure of each remote call so an adaptive
// rate limiter can adjust its ceiling. Optional.
type Outcomes interface {
	RecordSuccess()
	RecordFailure()
}

// Config holds the engine's sync-cycle settings.
type Config struct {
	// Query selects the remote records to pull.
	Query remote.Query

	// BatchSize bounds how many queued changes are pushed per batch.
	BatchSize int

	// Bidirectional enables the push phase.
	Bidirectional bool

	// Policy is the conflict resolution policy.
	Policy Policy
}

// Options wires the engine's collaborators.
type Options struct {
	Remote   remote.Client
	Local    LocalStore
	Queue    *queue.Queue
	Limiter  Limiter
	Retrier  Retrier
	Outcomes Outcomes
	Bus      events.Bus
	Logger   *log.Logger
	Config   Config
}

// Engine orchestrates one synchronization cycle at a time.
type Engine struct {
	remote   remote.Client
	local    LocalStore
	queue    *queue.Queue
	limiter  Limiter
	retrier  Retrier
	outcomes Outcomes
	detector Detector
	bus      events.Bus
	logger   *log.Logger
	cfg      Config

	running atomic.Bool
}

// Operation keys for the retry manager's circuit breakers.
const (
	OpSearch = "remote.search"
	OpUpdate = "remote.update"
)

// NewEngine creates an Engine. Remote, Local, Queue, Limiter, and Retrier
// are required.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if opts.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("change queue is required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if opts.Retrier == nil {
		return nil, fmt.Errorf("retry manager is required")
	}
	if opts.Bus == nil {
		opts.Bus = events.Nop()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if opts.Config.BatchSize <= 0 {
		opts.Config.BatchSize = 10
	}
	switch opts.Config.Policy {
	case PolicyLocal, PolicyRemote, PolicyManual:
	case "":
		opts.Config.Policy = PolicyManual
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", opts.Config.Policy)
	}

	return &Engine{
		remote:   opts.Remote,
		local:    opts.Local,
		queue:    opts.Queue,
		limiter:  opts.Limiter,
		retrier:  opts.Retrier,
		outcomes: opts.Outcomes,
		bus:      opts.Bus,
		logger:   opts.Logger,
		cfg:      opts.Config,
	}, nil
}

// SetUpdatedSince narrows the pull query to records updated at or after t.
// Must not be called while a cycle is running.
func (e *Engine) SetUpdatedSince(t time.Time) {
	e.cfg.Query.JQL = remote.NewQueryBuilder().
		Raw(e.cfg.Query.JQL).
		Raw(fmt.Sprintf("updated >= %q", t.Format("2006-01-02 15:04"))).
		String()
}

// IsRunning reports whether a cycle is currently in progress.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Sync runs one full synchronization cycle: pull, conflict handling, push.
// It always returns a Result; a concurrent invocation while a cycle is
// running returns immediately with Success=false and performs no work.
func (e *Engine) Sync(ctx context.Context) *Result {
	if !e.running.CompareAndSwap(false, true) {
		return &Result{
			Success: false,
			Errors:  []string{ErrSyncInProgress.Error()},
		}
	}
	defer e.running.Store(false)

	start := time.Now()
	res := &Result{}

	e.bus.Publish(events.Event{Type: events.TypeSyncStarted})
	e.logger.Printf("Starting sync cycle (query=%q bidirectional=%v policy=%s)",
		e.cfg.Query.JQL, e.cfg.Bidirectional, e.cfg.Policy)

	e.pull(ctx, res)

	if e.cfg.Bidirectional {
		e.push(ctx, res)
	}

	res.Duration = time.Since(start)
	res.Success = len(res.Errors) == 0

	e.logger.Printf("Sync complete: synced=%d failed=%d conflicts=%d errors=%d in %v",
		res.Synced, res.Failed, len(res.Conflicts), len(res.Errors), res.Duration)
	e.bus.Publish(events.Event{Type: events.TypeSyncCompleted, Data: map[string]any{
		"synced":    res.Synced,
		"failed":    res.Failed,
		"conflicts": len(res.Conflicts),
		"errors":    len(res.Errors),
		"duration":  res.Duration.String(),
	}})
	return res
}

// pull fetches all remote records matching the query and reconciles each
// against local state. A failed search aborts the cycle; a failed
// reconcile of one record does not.
func (e *Engine) pull(ctx context.Context, res *Result) {
	page := remote.Page{Limit: e.cfg.Query.MaxResults}

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			res.addError(fmt.Sprintf("pull aborted: %v", err))
			return
		}

		var sr *remote.SearchResult
		r := e.retrier.Do(ctx, OpSearch, func(ctx context.Context) error {
			var err error
			sr, err = e.remote.Search(ctx, e.cfg.Query, page)
			if err != nil && !remote.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
		e.recordOutcome(r.Success)
		if !r.Success {
			res.addError(fmt.Sprintf("remote search failed: %v", r.Err))
			return
		}

		for _, rec := range sr.Records {
			e.reconcile(rec, res)
		}

		if sr.NextPageToken == "" {
			return
		}
		page.Token = sr.NextPageToken
	}
}

// reconcile merges one remote record into local state, collecting conflicts
// per the configured policy.
func (e *Engine) reconcile(remoteRec *model.Record, res *Result) {
	local, found, err := e.local.Get(remoteRec.Key)
	if err != nil {
		res.Failed++
		res.addError(fmt.Sprintf("read local %s: %v", remoteRec.Key, err))
		return
	}

	if !found {
		if err := e.writeLocal(remoteRec); err != nil {
			res.Failed++
			res.addError(fmt.Sprintf("materialize %s: %v", remoteRec.Key, err))
			return
		}
		res.Synced++
		return
	}

	conflicts := e.detector.Detect(local, remoteRec)
	if len(conflicts) == 0 {
		if err := e.writeLocal(remoteRec); err != nil {
			res.Failed++
			res.addError(fmt.Sprintf("update local %s: %v", remoteRec.Key, err))
			return
		}
		res.Synced++
		return
	}

	res.Conflicts = append(res.Conflicts, conflicts...)
	for _, c := range conflicts {
		e.bus.Publish(events.Event{Type: events.TypeConflictDetected, Key: c.Key, Data: map[string]any{
			"field": c.Field,
		}})
	}

	switch e.cfg.Policy {
	case PolicyLocal:
		// Local wins: queue the conflicting local values for push.
		fields := make(map[string]any, len(conflicts))
		for _, c := range conflicts {
			fields[c.Field] = c.LocalValue
		}
		e.queue.Add(remoteRec.Key, fields)
		e.logger.Printf("Conflict on %s: queued %d local field(s) for push", remoteRec.Key, len(fields))

	case PolicyRemote:
		// Remote wins: overwrite local state with the remote version.
		if err := e.writeLocal(remoteRec); err != nil {
			res.Failed++
			res.addError(fmt.Sprintf("overwrite local %s: %v", remoteRec.Key, err))
			return
		}
		res.Synced++
		e.logger.Printf("Conflict on %s: overwrote local with remote version", remoteRec.Key)

	case PolicyManual:
		// Surfaced via the result; no write to either side.
		e.logger.Printf("Conflict on %s: left for manual resolution (%d field(s))",
			remoteRec.Key, len(conflicts))
	}
}

// writeLocal stores the remote version as clean local state.
func (e *Engine) writeLocal(remoteRec *model.Record) error {
	rec := remoteRec.Clone()
	rec.Dirty = false
	return e.local.Put(rec)
}

// push drains the pending change queue in fixed-size batches. Each item
// waits for a rate limiter slot and runs through the retry manager; one
// item's failure never blocks the rest.
func (e *Engine) push(ctx context.Context, res *Result) {
	pending := e.queue.Pending()
	if len(pending) == 0 {
		return
	}

	batchSize := e.cfg.BatchSize
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		e.logger.Printf("Pushing batch of %d change(s)", len(batch))

		for _, change := range batch {
			if err := e.limiter.Wait(ctx); err != nil {
				res.addError(fmt.Sprintf("push aborted: %v", err))
				return
			}

			c := change
			r := e.retrier.Do(ctx, OpUpdate, func(ctx context.Context) error {
				err := e.remote.Update(ctx, c.Key, c.Fields)
				if err != nil && !remote.IsRetryable(err) {
					return retry.Permanent(err)
				}
				return err
			})
			e.recordOutcome(r.Success)

			if r.Success {
				e.queue.MarkProcessed(c.ID, c.Revision)
				res.Synced++
			} else {
				e.queue.IncrementRetry(c.ID, r.Err)
				res.Failed++
				res.addError(fmt.Sprintf("push %s: %v", c.Key, r.Err))
			}
		}
	}
}

func (e *Engine) recordOutcome(success bool) {
	if e.outcomes == nil {
		return
	}
	if success {
		e.outcomes.RecordSuccess()
	} else {
		e.outcomes.RecordFailure()
	}
}

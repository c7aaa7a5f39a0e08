package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"issuesync/internal/model"
	"issuesync/internal/queue"
	"issuesync/internal/remote"
	"issuesync/internal/retry"
)

// fakeRemote is a scriptable remote client.
type fakeRemote struct {
	mu      sync.Mutex
	records []*model.Record
	pages   int

	searchErr error
	updateErr map[string]error // by key; nil entry means success

	updates []string // keys updated, in order
}

func (f *fakeRemote) Search(ctx context.Context, q remote.Query, page remote.Page) (*remote.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.searchErr != nil {
		return nil, f.searchErr
	}

	if f.pages <= 1 {
		return &remote.SearchResult{Records: f.records, Total: len(f.records)}, nil
	}

	// Split records evenly into f.pages pages.
	per := (len(f.records) + f.pages - 1) / f.pages
	start := 0
	if page.Token != "" {
		fmt.Sscanf(page.Token, "%d", &start)
	}
	end := start + per
	if end > len(f.records) {
		end = len(f.records)
	}
	res := &remote.SearchResult{Records: f.records[start:end], Total: len(f.records)}
	if end < len(f.records) {
		res.NextPageToken = fmt.Sprintf("%d", end)
	}
	return res, nil
}

func (f *fakeRemote) Update(ctx context.Context, key string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.updateErr[key]; ok && err != nil {
		return err
	}
	f.updates = append(f.updates, key)
	return nil
}

// memStore is an in-memory LocalStore.
type memStore struct {
	mu      sync.Mutex
	records map[string]*model.Record
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*model.Record)}
}

func (s *memStore) Get(key string) (*model.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *memStore) Put(rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putErr != nil {
		return s.putErr
	}
	s.records[rec.Key] = rec.Clone()
	return nil
}

// noLimiter grants every request immediately and counts them.
type noLimiter struct {
	mu    sync.Mutex
	waits int
}

func (l *noLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return ctx.Err()
}

func newTestRetrier() *retry.Manager {
	return retry.New(retry.Config{MaxRetries: 0, BreakerThreshold: 100, BackoffMultiplier: 2},
		nil, log.New(io.Discard, "", 0))
}

type engineFixture struct {
	remote *fakeRemote
	local  *memStore
	queue  *queue.Queue
	eng    *Engine
}

func newFixture(t *testing.T, cfg Config, rem *fakeRemote) *engineFixture {
	t.Helper()

	local := newMemStore()
	q := queue.New(queue.NewMemoryStore(), queue.Options{Logger: log.New(io.Discard, "", 0)})

	eng, err := NewEngine(Options{
		Remote:  rem,
		Local:   local,
		Queue:   q,
		Limiter: &noLimiter{},
		Retrier: newTestRetrier(),
		Logger:  log.New(io.Discard, "", 0),
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return &engineFixture{remote: rem, local: local, queue: q, eng: eng}
}

func remoteRecord(key string, fields map[string]any) *model.Record {
	return &model.Record{Key: key, Fields: fields, UpdatedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
}

func TestNewEngineValidation(t *testing.T) {
	base := Options{
		Remote:  &fakeRemote{},
		Local:   newMemStore(),
		Queue:   queue.New(queue.NewMemoryStore(), queue.Options{Logger: log.New(io.Discard, "", 0)}),
		Limiter: &noLimiter{},
		Retrier: newTestRetrier(),
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing remote", func(o *Options) { o.Remote = nil }},
		{"missing local", func(o *Options) { o.Local = nil }},
		{"missing queue", func(o *Options) { o.Queue = nil }},
		{"missing limiter", func(o *Options) { o.Limiter = nil }},
		{"missing retrier", func(o *Options) { o.Retrier = nil }},
		{"bad policy", func(o *Options) { o.Config.Policy = "newest-wins" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			if _, err := NewEngine(opts); err == nil {
				t.Error("NewEngine succeeded, want error")
			}
		})
	}
}

func TestPullMaterializesNewRecords(t *testing.T) {
	rem := &fakeRemote{records: []*model.Record{
		remoteRecord("ABC-1", map[string]any{"status": "open"}),
		remoteRecord("ABC-2", map[string]any{"status": "done"}),
	}}
	f := newFixture(t, Config{}, rem)

	res := f.eng.Sync(context.Background())

	if !res.Success {
		t.Fatalf("sync failed: %v", res.Errors)
	}
	if res.Synced != 2 {
		t.Errorf("Synced = %d, want 2", res.Synced)
	}

	rec, found, _ := f.local.Get("ABC-1")
	if !found {
		t.Fatal("ABC-1 not materialized locally")
	}
	if rec.Dirty {
		t.Error("pulled record marked dirty")
	}
}

func TestCleanLocalIsOverwrittenWithoutConflict(t *testing.T) {
	rem := &fakeRemote{records: []*model.Record{
		remoteRecord("ABC-1", map[string]any{"status": "done"}),
	}}
	f := newFixture(t, Config{}, rem)

	f.local.Put(&model.Record{Key: "ABC-1", Fields: map[string]any{"status": "open"}, Dirty: false})

	res := f.eng.Sync(context.Background())

	if len(res.Conflicts) != 0 {
		t.Errorf("clean local record produced %d conflicts", len(res.Conflicts))
	}
	rec, _, _ := f.local.Get("ABC-1")
	if rec.Fields["status"] != "done" {
		t.Errorf("local status = %v, want remote value done", rec.Fields["status"])
	}
}

func TestManualPolicySurfacesConflictWithoutWriting(t *testing.T) {
	rem := &fakeRemote{records: []*model.Record{
		remoteRecord("ABC-1", map[string]any{"status": "done", "summary": "same"}),
	}}
	f := newFixture(t, Config{Policy: PolicyManual}, rem)

	f.local.Put(&model.Record{
		Key:    "ABC-1",
		Fields: map[string]any{"status": "in-progress", "summary": "same"},
		Dirty:  true,
	})

	res := f.eng.Sync(context.Background())

	if len(res.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Key != "ABC-1" || c.Field != "status" {
		t.Errorf("conflict = %s.%s, want ABC-1.status", c.Key, c.Field)
	}
	if c.LocalValue != "in-progress" || c.RemoteValue != "done" {
		t.Errorf("conflict values = %v / %v", c.LocalValue, c.RemoteValue)
	}

	// Manual policy leaves local state untouched.
	rec, _, _ := f.local.Get("ABC-1")
	if rec.Fields["status"] != "in-progress" {
		t.Errorf("manual policy overwrote local: %v", rec.Fields["status"])
	}
}

func TestLocalPolicyQueuesConflictingFields(t *testing.T) {
	rem := &fakeRemote{records: []*model.Record{
		remoteRecord("ABC-1", map[string]any{"status": "done"}),
	}}
	f := newFixture(t, Config{Policy: PolicyLocal}, rem)

	f.local.Put(&model.Record{Key: "ABC-1", Fields: map[string]any{"status": "in-progress"}, Dirty: true})

	f.eng.Sync(context.Background())

	pending := f.queue.Pending()
	if len(pending) != 1 {
		t.Fatalf("queued %d changes, want 1", len(pending))
	}
	if pending[0].Key != "ABC-1" || pending[0].Fields["status"] != "in-progress" {
		t.Errorf("queued change = %+v, want local status value", pending[0])
	}
}

func TestRemotePolicyOverwritesLocal(t *testing.T) {
	rem := &fakeRemote{records: []*model.Record{
		remoteRecord("ABC-1", map[string]any{"status": "done"}),
	}}
	f := newFixture(t, Config{Policy: PolicyRemote}, rem)

	f.local.Put(&model.Record{Key: "ABC-1", Fields: map[string]any{"status": "in-progress"}, Dirty: true})

	res := f.eng.Sync(context.Background())

	rec, _, _ := f.local.Get("ABC-1")
	if rec.Fields["status"] != "done" {
		t.Errorf("local status = %v, want done", rec.Fields["status"])
	}
	if rec.Dirty {
		t.Error("record still dirty after remote-policy overwrite")
	}
	if len(res.Conflicts) != 1 {
		t.Errorf("conflict not reported: %d", len(res.Conflicts))
	}
}

func TestSearchFailureAbortsCycle(t *testing.T) {
	rem := &fakeRemote{searchErr: &remote.StatusError{Code: 500, Message: "boom"}}
	f := newFixture(t, Config{}, rem)

	res := f.eng.Sync(context.Background())

	if res.Success {
		t.Fatal("sync succeeded despite search failure")
	}
	if len(res.Errors) == 0 {
		t.Fatal("no error recorded for failed search")
	}
}

func TestPushDrainsQueueInBatches(t *testing.T) {
	rem := &fakeRemote{}
	f := newFixture(t, Config{BatchSize: 10, Bidirectional: true}, rem)

	for i := 0; i < 25; i++ {
		f.queue.Add(fmt.Sprintf("ABC-%d", i), map[string]any{"n": i})
	}

	res := f.eng.Sync(context.Background())

	if !res.Success {
		t.Fatalf("sync failed: %v", res.Errors)
	}
	if len(rem.updates) != 25 {
		t.Errorf("pushed %d updates, want 25", len(rem.updates))
	}
	if got := len(f.queue.All()); got != 0 {
		t.Errorf("queue holds %d changes after push, want 0", got)
	}
}

func TestPushIsolatesItemFailures(t *testing.T) {
	rem := &fakeRemote{updateErr: map[string]error{
		"ABC-1": &remote.StatusError{Code: 500, Message: "boom"},
	}}
	f := newFixture(t, Config{Bidirectional: true}, rem)

	f.queue.Add("ABC-1", map[string]any{"a": 1})
	f.queue.Add("ABC-2", map[string]any{"b": 2})

	res := f.eng.Sync(context.Background())

	if res.Success {
		t.Fatal("sync reported success despite a failed item")
	}
	if res.Synced != 1 || res.Failed != 1 {
		t.Errorf("Synced/Failed = %d/%d, want 1/1", res.Synced, res.Failed)
	}

	// The failed item stays queued with its retry count bumped.
	all := f.queue.All()
	if len(all) != 1 || all[0].Key != "ABC-1" || all[0].RetryCount != 1 {
		t.Errorf("queue after push = %+v, want ABC-1 with 1 retry", all)
	}
}

func TestFatalUpdateErrorIsNotRetriedByManager(t *testing.T) {
	rem := &fakeRemote{updateErr: map[string]error{
		"ABC-1": &remote.StatusError{Code: 400, Message: "field does not exist"},
	}}

	local := newMemStore()
	q := queue.New(queue.NewMemoryStore(), queue.Options{Logger: log.New(io.Discard, "", 0)})
	retrier := retry.New(retry.Config{MaxRetries: 3, BaseDelay: time.Nanosecond, BackoffMultiplier: 2, BreakerThreshold: 100},
		nil, log.New(io.Discard, "", 0))

	eng, err := NewEngine(Options{
		Remote:  rem,
		Local:   local,
		Queue:   q,
		Limiter: &noLimiter{},
		Retrier: retrier,
		Logger:  log.New(io.Discard, "", 0),
		Config:  Config{Bidirectional: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	q.Add("ABC-1", map[string]any{"bogus": 1})
	res := eng.Sync(context.Background())

	if res.Success {
		t.Fatal("sync succeeded")
	}
	// A 400 is wrapped as permanent: exactly one attempt, no backoff loop.
	stats := retrier.BreakerStats(OpUpdate)
	if stats.FailureCount != 1 {
		t.Errorf("breaker failure count = %d, want 1 (single execution)", stats.FailureCount)
	}
}

func TestConcurrentSyncRejected(t *testing.T) {
	rem := &fakeRemote{records: []*model.Record{
		remoteRecord("ABC-1", map[string]any{"status": "open"}),
	}}
	f := newFixture(t, Config{}, rem)

	// Hold the engine busy by blocking the remote search.
	blocker := make(chan struct{})
	started := make(chan struct{})
	f.remote.searchErr = nil

	slow := &slowRemote{inner: rem, started: started, release: blocker}
	f.eng.remote = slow

	done := make(chan *Result, 1)
	go func() {
		done <- f.eng.Sync(context.Background())
	}()

	<-started
	second := f.eng.Sync(context.Background())
	close(blocker)
	first := <-done

	if second.Success {
		t.Error("overlapping sync reported success")
	}
	if len(second.Errors) != 1 || second.Errors[0] != ErrSyncInProgress.Error() {
		t.Errorf("second sync errors = %v, want [%q]", second.Errors, ErrSyncInProgress.Error())
	}
	if !first.Success {
		t.Errorf("first sync failed: %v", first.Errors)
	}

	// The engine is usable again after the first cycle finished.
	if res := f.eng.Sync(context.Background()); !res.Success {
		t.Errorf("follow-up sync failed: %v", res.Errors)
	}
}

// slowRemote blocks the first Search until released.
type slowRemote struct {
	inner   remote.Client
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowRemote) Search(ctx context.Context, q remote.Query, page remote.Page) (*remote.SearchResult, error) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.inner.Search(ctx, q, page)
}

func (s *slowRemote) Update(ctx context.Context, key string, fields map[string]any) error {
	return s.inner.Update(ctx, key, fields)
}

func TestPullPaginatesThroughAllPages(t *testing.T) {
	var records []*model.Record
	for i := 0; i < 9; i++ {
		records = append(records, remoteRecord(fmt.Sprintf("ABC-%d", i), map[string]any{"n": i}))
	}
	rem := &fakeRemote{records: records, pages: 3}
	f := newFixture(t, Config{}, rem)

	res := f.eng.Sync(context.Background())

	if !res.Success {
		t.Fatalf("sync failed: %v", res.Errors)
	}
	if res.Synced != 9 {
		t.Errorf("Synced = %d, want 9 across 3 pages", res.Synced)
	}
}

func TestLimiterGatesEveryRemoteCall(t *testing.T) {
	rem := &fakeRemote{records: []*model.Record{
		remoteRecord("ABC-1", map[string]any{"status": "open"}),
	}}
	f := newFixture(t, Config{Bidirectional: true}, rem)
	limiter := f.eng.limiter.(*noLimiter)

	f.queue.Add("ABC-9", map[string]any{"a": 1})
	f.eng.Sync(context.Background())

	// One search plus one update.
	if limiter.waits != 2 {
		t.Errorf("limiter waited %d times, want 2", limiter.waits)
	}
}

func TestSyncNeverReturnsBareError(t *testing.T) {
	rem := &fakeRemote{searchErr: errors.New("catastrophic")}
	f := newFixture(t, Config{}, rem)

	res := f.eng.Sync(context.Background())
	if res == nil {
		t.Fatal("Sync returned nil result")
	}
	if res.Success {
		t.Error("failed cycle reported success")
	}
	if res.Duration <= 0 {
		t.Error("Duration not recorded")
	}
}

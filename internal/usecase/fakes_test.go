package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/coin_tracker/internal/domain"
)

func ptr(v float64) *float64 { return &v }

// fakeSource returns canned snapshots or an error. When block is set, FetchMarkets
// waits on it so tests can hold a cycle in flight.
type fakeSource struct {
	mu    sync.Mutex
	snaps []domain.AssetSnapshot
	err   error
	calls int
	block chan struct{}
}

func (f *fakeSource) set(snaps []domain.AssetSnapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps, f.err = snaps, err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) FetchMarkets(ctx context.Context) ([]domain.AssetSnapshot, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	snaps, err := f.snaps, f.err
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.AssetSnapshot, len(snaps))
	copy(out, snaps)
	return out, nil
}

// memStore is an in-memory domain.Store with per-asset failure injection.
type memStore struct {
	mu         sync.Mutex
	snapshots  map[string]domain.AssetSnapshot
	history    []domain.HistoryRecord
	failUpsert map[string]bool
	failAppend map[string]bool
	pingErr    error
	nextID     int64
}

func newMemStore() *memStore {
	return &memStore{
		snapshots:  map[string]domain.AssetSnapshot{},
		failUpsert: map[string]bool{},
		failAppend: map[string]bool{},
	}
}

var errWrite = errors.New("write failed")

func (m *memStore) UpsertSnapshot(ctx context.Context, snap *domain.AssetSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert[snap.AssetID] {
		return errWrite
	}
	m.snapshots[snap.AssetID] = *snap
	return nil
}

func (m *memStore) ListSnapshots(ctx context.Context) ([]*domain.AssetSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.AssetSnapshot{}
	for _, s := range m.snapshots {
		s := s
		out = append(out, &s)
	}
	return out, nil
}

func (m *memStore) AppendHistory(ctx context.Context, rec *domain.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend[rec.AssetID] {
		return errWrite
	}
	m.nextID++
	rec.ID = m.nextID
	m.history = append(m.history, *rec)
	return nil
}

func (m *memStore) ListHistory(ctx context.Context, assetID string) ([]*domain.HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.HistoryRecord{}
	for _, h := range m.history {
		if h.AssetID == assetID {
			h := h
			out = append(out, &h)
		}
	}
	return out, nil
}

func (m *memStore) setPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *memStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *memStore) Close() error { return nil }

// staticProvider is a StoreProvider with a fixed state.
type staticProvider struct {
	state domain.ConnState
	store domain.Store
}

func (p staticProvider) State() domain.ConnState { return p.state }
func (p staticProvider) Store() domain.Store     { return p.store }

// switchableState lets readiness tests flip the connection state.
type switchableState struct {
	v atomic.Int32
}

func (s *switchableState) set(st domain.ConnState) { s.v.Store(int32(st)) }
func (s *switchableState) State() domain.ConnState { return domain.ConnState(s.v.Load()) }

// fakeTimer satisfies backoff.Timer, fires immediately and records every wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	ch    chan time.Time
}

func (t *fakeTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waits = append(t.waits, d)
	t.ch = make(chan time.Time, 1)
	t.ch <- time.Now()
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}

func (t *fakeTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

// blockingRunner holds every cycle until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	runs    atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (r *blockingRunner) RunCycle(ctx context.Context) (*CycleReport, error) {
	r.runs.Add(1)
	r.started <- struct{}{}
	<-r.release
	return &CycleReport{}, nil
}

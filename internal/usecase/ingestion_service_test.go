package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/coin_tracker/internal/domain"
	"github.com/vitos/coin_tracker/internal/infrastructure/storage"
	"go.uber.org/zap"
)

var cycleTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func snapshot(id string, price float64, at time.Time) domain.AssetSnapshot {
	return domain.AssetSnapshot{
		AssetID:      id,
		DisplayName:  "Name " + id,
		Symbol:       id[:3],
		PriceUSD:     ptr(price),
		MarketCapUSD: ptr(price * 1000),
		Change24hPct: ptr(1.25),
		ObservedAt:   at,
	}
}

func newSQLite(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(source domain.MarketSource, provider StoreProvider) (*IngestionService, *StatusTracker) {
	status := NewStatusTracker()
	svc := NewIngestionService(source, provider, status, zap.NewNop())
	return svc, status
}

func historyCount(t *testing.T, repo domain.HistoryRepository, id string) int {
	t.Helper()
	h, err := repo.ListHistory(context.Background(), id)
	require.NoError(t, err)
	return len(h)
}

// Scenario A: two assets with full fields.
func TestIngestion_SuccessfulCycle(t *testing.T) {
	store := newSQLite(t)
	source := &fakeSource{}
	source.set([]domain.AssetSnapshot{snapshot("alpha", 100, cycleTime), snapshot("beta", 50, cycleTime)}, nil)

	svc, status := newTestService(source, staticProvider{state: domain.ConnConnected, store: store})
	var notified []CycleReport
	svc.OnCycle(func(r CycleReport) { notified = append(notified, r) })

	before := time.Now().UTC()
	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "success", report.Outcome)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.Upserted)
	assert.Equal(t, 2, report.Appended)
	assert.Empty(t, report.WriteFailures)
	assert.NotEmpty(t, report.CycleID)

	snaps, err := store.ListSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	byID := map[string]*domain.AssetSnapshot{}
	for _, s := range snaps {
		byID[s.AssetID] = s
	}
	assert.Equal(t, 100.0, *byID["alpha"].PriceUSD)
	assert.Equal(t, 100000.0, *byID["alpha"].MarketCapUSD)
	assert.Equal(t, "Name beta", byID["beta"].DisplayName)
	assert.Equal(t, 50.0, *byID["beta"].PriceUSD)

	assert.Equal(t, 1, historyCount(t, store, "alpha"))
	assert.Equal(t, 1, historyCount(t, store, "beta"))
	h, err := store.ListHistory(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, report.CycleID, h[0].CycleID)

	st := status.Read()
	assert.Equal(t, domain.OutcomeSuccess, st.LastOutcome)
	require.NotNil(t, st.LastAttemptAt)
	assert.False(t, st.LastAttemptAt.Before(before))

	require.Len(t, notified, 1)
	assert.Equal(t, report.CycleID, notified[0].CycleID)
}

// Scenario B: upstream times out.
func TestIngestion_FetchFailureLeavesStoreUnchanged(t *testing.T) {
	store := newSQLite(t)
	source := &fakeSource{}
	source.set([]domain.AssetSnapshot{snapshot("alpha", 100, cycleTime)}, nil)

	svc, status := newTestService(source, staticProvider{state: domain.ConnConnected, store: store})
	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	firstAttempt := *status.Read().LastAttemptAt

	timeout := &domain.FetchError{Op: "request", Err: context.DeadlineExceeded}
	source.set(nil, timeout)
	time.Sleep(2 * time.Millisecond)

	report, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "failure", report.Outcome)

	snaps, err := store.ListSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 100.0, *snaps[0].PriceUSD)
	assert.Equal(t, 1, historyCount(t, store, "alpha"))

	st := status.Read()
	assert.Equal(t, domain.OutcomeFailure, st.LastOutcome)
	assert.True(t, st.LastAttemptAt.After(firstAttempt))
}

// Scenario C, ingestion half: storage never connected.
func TestIngestion_StorageUnavailable(t *testing.T) {
	source := &fakeSource{}
	svc, status := newTestService(source, staticProvider{state: domain.ConnDisconnected})

	report, err := svc.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, "failure", report.Outcome)
	assert.Equal(t, 0, source.Calls(), "upstream must not be called without storage")
	assert.Equal(t, domain.OutcomeFailure, status.Read().LastOutcome)
}

func TestIngestion_DisconnectedStateBlocksCycle(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{}
	svc, _ := newTestService(source, staticProvider{state: domain.ConnDisconnected, store: store})

	_, err := svc.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, store.history)
}

// Scenario D: two cycles with different prices.
func TestIngestion_ConsecutiveCyclesKeepLatestSnapshotAndFullHistory(t *testing.T) {
	store := newSQLite(t)
	source := &fakeSource{}
	svc, _ := newTestService(source, staticProvider{state: domain.ConnConnected, store: store})

	source.set([]domain.AssetSnapshot{snapshot("alpha", 100, cycleTime)}, nil)
	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	source.set([]domain.AssetSnapshot{snapshot("alpha", 125, cycleTime.Add(5*time.Minute))}, nil)
	_, err = svc.RunCycle(context.Background())
	require.NoError(t, err)

	snaps, err := store.ListSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 125.0, *snaps[0].PriceUSD)
	assert.True(t, snaps[0].ObservedAt.Equal(cycleTime.Add(5*time.Minute)))

	history, err := store.ListHistory(context.Background(), "alpha")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 100.0, *history[0].PriceUSD)
	assert.Equal(t, 125.0, *history[1].PriceUSD)
	assert.NotEqual(t, history[0].CycleID, history[1].CycleID)
}

func TestIngestion_WriteFailuresAreBestEffort(t *testing.T) {
	store := newMemStore()
	store.failUpsert["beta"] = true
	store.failAppend["gamma"] = true

	source := &fakeSource{}
	source.set([]domain.AssetSnapshot{
		snapshot("alpha", 1, cycleTime),
		snapshot("beta", 2, cycleTime),
		snapshot("gamma", 3, cycleTime),
	}, nil)

	svc, status := newTestService(source, staticProvider{state: domain.ConnConnected, store: store})
	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "success", report.Outcome, "write failures do not flip the fetch outcome")
	assert.Equal(t, domain.OutcomeSuccess, status.Read().LastOutcome)
	assert.Equal(t, 2, report.Upserted)
	assert.Equal(t, 2, report.Appended)
	assert.ElementsMatch(t, []WriteFailure{
		{AssetID: "beta", Op: OpUpsertSnapshot, Error: errWrite.Error()},
		{AssetID: "gamma", Op: OpAppendHistory, Error: errWrite.Error()},
	}, report.WriteFailures)

	// beta's history append still ran after its upsert failed.
	assert.Equal(t, 1, historyCount(t, store, "beta"))
	// gamma's snapshot was still upserted although its append failed.
	_, ok := store.snapshots["gamma"]
	assert.True(t, ok)
	assert.Equal(t, 0, historyCount(t, store, "gamma"))
	// the asset after the failures was processed too.
	assert.Equal(t, 1, historyCount(t, store, "alpha"))
}

func TestIngestion_HistoryGrowsByOnePerCycle(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{}
	source.set([]domain.AssetSnapshot{snapshot("alpha", 1, cycleTime)}, nil)
	svc, _ := newTestService(source, staticProvider{state: domain.ConnConnected, store: store})

	for i := 1; i <= 3; i++ {
		_, err := svc.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, historyCount(t, store, "alpha"))
	}
	snaps, _ := store.ListSnapshots(context.Background())
	assert.Len(t, snaps, 1)
}

func TestIngestion_FailedCycleDoesNotNotify(t *testing.T) {
	source := &fakeSource{}
	source.set(nil, errors.New("boom"))
	svc, _ := newTestService(source, staticProvider{state: domain.ConnConnected, store: newMemStore()})

	called := false
	svc.OnCycle(func(CycleReport) { called = true })
	_, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	assert.False(t, called)
}

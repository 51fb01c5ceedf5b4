package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/coin_tracker/internal/domain"
	"github.com/vitos/coin_tracker/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

var ErrStorageUnavailable = errors.New("storage is not connected")

// StoreProvider exposes the connection state and store without allowing mutation.
type StoreProvider interface {
	State() domain.ConnState
	Store() domain.Store
}

const (
	OpUpsertSnapshot = "upsert_snapshot"
	OpAppendHistory  = "append_history"
)

// WriteFailure is one failed store write inside a cycle.
type WriteFailure struct {
	AssetID string `json:"coin_id"`
	Op      string `json:"op"`
	Error   string `json:"error"`
}

// CycleReport summarises one fetch→map→persist run. Outcome reflects the
// upstream fetch only; per-asset write failures are listed separately.
type CycleReport struct {
	CycleID       string                 `json:"cycle_id"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	Outcome       string                 `json:"outcome"`
	Fetched       int                    `json:"fetched"`
	Upserted      int                    `json:"upserted"`
	Appended      int                    `json:"appended"`
	WriteFailures []WriteFailure         `json:"write_failures,omitempty"`
	Snapshots     []domain.AssetSnapshot `json:"-"`
}

type IngestionService struct {
	source  domain.MarketSource
	stores  StoreProvider
	status  *StatusTracker
	logger  *zap.Logger
	timeNow func() time.Time

	mu        sync.RWMutex
	listeners []func(CycleReport)
}

func NewIngestionService(source domain.MarketSource, stores StoreProvider, status *StatusTracker, logger *zap.Logger) *IngestionService {
	return &IngestionService{
		source:  source,
		stores:  stores,
		status:  status,
		logger:  logger,
		timeNow: time.Now,
	}
}

// OnCycle registers a callback invoked after every successful cycle.
func (s *IngestionService) OnCycle(fn func(CycleReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// RunCycle performs one ingestion cycle and always records its outcome.
// It returns ErrStorageUnavailable or the fetch error when the cycle fails.
func (s *IngestionService) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: s.timeNow().UTC(),
	}
	log := s.logger.With(zap.String("cycle_id", report.CycleID))

	store := s.stores.Store()
	if store == nil || s.stores.State() != domain.ConnConnected {
		s.finish(report, domain.OutcomeFailure)
		log.Warn("Skipping ingestion, storage not connected", zap.Stringer("state", s.stores.State()))
		return report, ErrStorageUnavailable
	}

	snaps, err := s.source.FetchMarkets(ctx)
	if err != nil {
		s.finish(report, domain.OutcomeFailure)
		log.Error("Failed to fetch market data", zap.Error(err))
		return report, err
	}
	report.Fetched = len(snaps)
	report.Snapshots = snaps

	for i := range snaps {
		s.persist(ctx, store, report, &snaps[i], log)
	}

	s.finish(report, domain.OutcomeSuccess)
	log.Info("Market data fetched and saved",
		zap.Int("fetched", report.Fetched),
		zap.Int("upserted", report.Upserted),
		zap.Int("appended", report.Appended),
		zap.Int("write_failures", len(report.WriteFailures)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	s.notify(*report)
	return report, nil
}

// persist attempts both writes for one asset; a failure in one does not skip the other.
func (s *IngestionService) persist(ctx context.Context, store domain.Store, report *CycleReport, snap *domain.AssetSnapshot, log *zap.Logger) {
	if err := store.UpsertSnapshot(ctx, snap); err != nil {
		s.writeFailed(report, snap.AssetID, OpUpsertSnapshot, err, log)
	} else {
		report.Upserted++
	}

	if err := store.AppendHistory(ctx, domain.NewHistoryRecord(report.CycleID, *snap)); err != nil {
		s.writeFailed(report, snap.AssetID, OpAppendHistory, err, log)
	} else {
		report.Appended++
	}
}

func (s *IngestionService) writeFailed(report *CycleReport, assetID, op string, err error, log *zap.Logger) {
	report.WriteFailures = append(report.WriteFailures, WriteFailure{AssetID: assetID, Op: op, Error: err.Error()})
	metrics.RecordStoreWriteFailure(op)
	log.Error("Store write failed", zap.String("coin_id", assetID), zap.String("op", op), zap.Error(err))
}

func (s *IngestionService) finish(report *CycleReport, outcome domain.Outcome) {
	report.FinishedAt = s.timeNow().UTC()
	report.Outcome = outcome.String()
	s.status.Record(outcome)
	metrics.RecordCycle(report.Outcome, report.FinishedAt.Sub(report.StartedAt).Seconds())
}

func (s *IngestionService) notify(report CycleReport) {
	s.mu.RLock()
	listeners := append(([]func(CycleReport))(nil), s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(report)
	}
}

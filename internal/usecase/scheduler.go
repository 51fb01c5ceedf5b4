package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vitos/coin_tracker/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

const DefaultCadence = "*/5 * * * *"

var (
	ErrSchedulerStarted = errors.New("scheduler already started")
	ErrCycleInProgress  = errors.New("ingestion cycle already in progress")
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// CycleRunner runs one ingestion cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

// Scheduler fires cycles on a cron cadence. Ticks never overlap: a tick that
// arrives while a cycle is in flight is dropped.
type Scheduler struct {
	runner       CycleRunner
	cadence      string
	cycleTimeout time.Duration
	logger       *zap.Logger
	cron         *cron.Cron

	started  atomic.Bool
	inFlight atomic.Bool

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler accepts standard five-field cron expressions and descriptors
// such as "@every 5m". An empty cadence means DefaultCadence.
func NewScheduler(cadence string, runner CycleRunner, cycleTimeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if cadence == "" {
		cadence = DefaultCadence
	}
	s := &Scheduler{
		runner:       runner,
		cadence:      cadence,
		cycleTimeout: cycleTimeout,
		logger:       logger,
		cron:         cron.New(),
	}
	if _, err := s.cron.AddFunc(cadence, func() { s.Tick() }); err != nil {
		return nil, fmt.Errorf("invalid cadence %q: %w", cadence, err)
	}
	return s, nil
}

// Start begins firing ticks. It can only succeed once.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSchedulerStarted
	}
	s.cron.Start()
	s.logger.Info("Scheduling market data fetch", zap.String("cadence", s.cadence))
	return nil
}

func (s *Scheduler) Running() bool {
	return s.started.Load()
}

// Tick runs one cycle unless another is still in flight. It reports whether
// the cycle ran. Cycle errors are logged and never escape.
func (s *Scheduler) Tick() bool {
	_, err := s.run(context.Background())
	if errors.Is(err, ErrCycleInProgress) {
		metrics.RecordSkippedTick()
		s.logger.Warn("Skipping tick, previous cycle still running")
		return false
	}
	if errors.Is(err, ErrSchedulerStopped) {
		return false
	}
	if err != nil {
		s.logger.Warn("Scheduled fetch failed, will retry on next run", zap.Error(err))
	}
	return true
}

// RunNow runs an on-demand cycle under the same non-overlap guard as Tick
// and returns its result to the caller. ctx cancellation does not interrupt it.
func (s *Scheduler) RunNow(ctx context.Context) (*CycleReport, error) {
	return s.run(context.WithoutCancel(ctx))
}

func (s *Scheduler) run(ctx context.Context) (*CycleReport, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSchedulerStopped
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil, ErrCycleInProgress
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer s.inFlight.Store(false)

	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}
	return s.runner.RunCycle(ctx)
}

// Stop halts the timer and waits for an in-flight cycle to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package usecase

import (
	"context"
	"time"

	"github.com/vitos/coin_tracker/internal/domain"
	"go.uber.org/zap"
)

const DefaultReadinessInterval = 5 * time.Second

// ConnStateReader is the read-only view of the connection state.
type ConnStateReader interface {
	State() domain.ConnState
}

// ReadinessPoller starts the scheduler once storage is connected, then exits.
type ReadinessPoller struct {
	conn       ConnStateReader
	scheduler  *Scheduler
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger
}

func NewReadinessPoller(conn ConnStateReader, scheduler *Scheduler, interval time.Duration, runOnStart bool, logger *zap.Logger) *ReadinessPoller {
	if interval <= 0 {
		interval = DefaultReadinessInterval
	}
	return &ReadinessPoller{
		conn:       conn,
		scheduler:  scheduler,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Run blocks until the scheduler is started or ctx is done. It reports whether
// the scheduler was started.
func (p *ReadinessPoller) Run(ctx context.Context) bool {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if p.conn.State() == domain.ConnConnected {
			return p.startTasks()
		}
		p.logger.Debug("Storage not ready yet, waiting",
			zap.Stringer("state", p.conn.State()), zap.Duration("retry_in", p.interval))

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (p *ReadinessPoller) startTasks() bool {
	p.logger.Info("Storage ready, starting market data scheduler")
	if err := p.scheduler.Start(); err != nil {
		p.logger.Error("Failed to start scheduler", zap.Error(err))
		return false
	}
	if p.runOnStart {
		go p.scheduler.Tick()
	}
	return true
}

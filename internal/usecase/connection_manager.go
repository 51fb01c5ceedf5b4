package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vitos/coin_tracker/internal/domain"
	"github.com/vitos/coin_tracker/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

var ErrConnectionFailed = errors.New("storage connection failed")

// ConnectFunc dials the storage backend once.
type ConnectFunc func(ctx context.Context) (domain.Store, error)

type ConnectOptions struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	PingTimeout   time.Duration
	ProbeInterval time.Duration
}

func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		MaxAttempts:   5,
		BaseDelay:     2 * time.Second,
		PingTimeout:   10 * time.Second,
		ProbeInterval: 30 * time.Second,
	}
}

// ConnectionManager owns the storage handle and the connection state.
// It is the only writer of either.
type ConnectionManager struct {
	connect ConnectFunc
	opts    ConnectOptions
	logger  *zap.Logger

	state atomic.Int32

	mu    sync.RWMutex
	store domain.Store

	// timer is nil outside of tests.
	timer backoff.Timer
}

func NewConnectionManager(connect ConnectFunc, opts ConnectOptions, logger *zap.Logger) *ConnectionManager {
	m := &ConnectionManager{
		connect: connect,
		opts:    opts,
		logger:  logger,
	}
	m.setState(domain.ConnDisconnected)
	return m
}

func (m *ConnectionManager) State() domain.ConnState {
	return domain.ConnState(m.state.Load())
}

// Store returns the connected store, or nil if no connection was ever made.
func (m *ConnectionManager) Store() domain.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store
}

func (m *ConnectionManager) setState(s domain.ConnState) {
	m.state.Store(int32(s))
	metrics.SetConnectionState(int(s))
}

// Connect dials with linear backoff. After the last failed attempt it returns
// an error wrapping ErrConnectionFailed; the caller decides whether that is fatal.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	if m.Store() != nil {
		return nil
	}
	m.setState(domain.ConnConnecting)

	attempt := 0
	operation := func() error {
		attempt++
		m.logger.Info("Attempting storage connection",
			zap.Int("attempt", attempt), zap.Int("max_attempts", m.opts.MaxAttempts))

		store, err := m.connect(ctx)
		metrics.RecordConnectionAttempt(err == nil)
		if err != nil {
			m.logger.Warn("Storage connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}

		m.mu.Lock()
		m.store = store
		m.mu.Unlock()
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Info("Waiting before retrying storage connection", zap.Duration("delay", wait))
	}

	b := backoff.WithContext(newConnectBackOff(m.opts.BaseDelay, m.opts.MaxAttempts), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, m.timer); err != nil {
		m.setState(domain.ConnDisconnected)
		m.logger.Error("Could not connect to storage after retries",
			zap.Int("attempts", attempt), zap.Error(err))
		return fmt.Errorf("%w after %d attempts: %w", ErrConnectionFailed, attempt, err)
	}

	m.setState(domain.ConnConnected)
	m.logger.Info("Storage connection established", zap.Int("attempt", attempt))
	return nil
}

// Watch pings the store every ProbeInterval and records disconnect/reconnect
// transitions. It never re-dials; the driver's pool reconnects on its own.
// Watch returns when ctx is done and is a no-op before a successful Connect.
func (m *ConnectionManager) Watch(ctx context.Context) {
	store := m.Store()
	if store == nil || m.opts.ProbeInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, store)
		}
	}
}

func (m *ConnectionManager) probe(ctx context.Context, store domain.Store) {
	pingCtx := ctx
	if m.opts.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, m.opts.PingTimeout)
		defer cancel()
	}

	err := store.Ping(pingCtx)
	if ctx.Err() != nil {
		return
	}
	prev := m.State()
	switch {
	case err != nil && prev == domain.ConnConnected:
		m.setState(domain.ConnDisconnected)
		m.logger.Warn("Storage disconnected", zap.Error(err))
	case err == nil && prev == domain.ConnDisconnected:
		m.setState(domain.ConnConnected)
		m.logger.Info("Storage reconnected")
	}
}

// Close releases the store handle.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	store := m.store
	m.store = nil
	m.mu.Unlock()

	m.setState(domain.ConnDisconnected)
	if store == nil {
		return nil
	}
	return store.Close()
}

package usecase

import (
	"sync/atomic"
	"time"

	"github.com/vitos/coin_tracker/internal/domain"
)

// StatusTracker holds the outcome of the latest ingestion attempt.
// Record has a single caller (IngestionService); Read is safe from any goroutine.
type StatusTracker struct {
	current atomic.Pointer[domain.FetchStatus]
	timeNow func() time.Time
}

func NewStatusTracker() *StatusTracker {
	t := &StatusTracker{timeNow: time.Now}
	t.current.Store(&domain.FetchStatus{LastOutcome: domain.OutcomeUnknown})
	return t
}

func (t *StatusTracker) Record(outcome domain.Outcome) {
	now := t.timeNow().UTC()
	t.current.Store(&domain.FetchStatus{
		LastAttemptAt: &now,
		LastOutcome:   outcome,
	})
}

// Read returns a copy of the attempt time and outcome taken together.
func (t *StatusTracker) Read() domain.FetchStatus {
	return *t.current.Load()
}

package domain

import "time"

type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// FetchStatus describes the most recent ingestion attempt.
// LastAttemptAt is nil until the first cycle runs.
type FetchStatus struct {
	LastAttemptAt *time.Time
	LastOutcome   Outcome
}

// ConnState is the storage connection state.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ReadyState returns the numeric code health consumers expect:
// 0 disconnected, 1 connected, 2 connecting.
func (s ConnState) ReadyState() int {
	switch s {
	case ConnConnected:
		return 1
	case ConnConnecting:
		return 2
	default:
		return 0
	}
}

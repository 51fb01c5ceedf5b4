package usecase

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LinearDelay is the wait after the given failed attempt (1-based): base * attempt.
func LinearDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base * time.Duration(attempt)
}

// LinearBackOff implements backoff.BackOff with LinearDelay.
// Wrap it with backoff.WithMaxRetries to bound the attempt count.
type LinearBackOff struct {
	Base    time.Duration
	attempt int
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return LinearDelay(b.Base, b.attempt)
}

func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// newConnectBackOff allows maxAttempts calls in total.
func newConnectBackOff(base time.Duration, maxAttempts int) backoff.BackOff {
	retries := 0
	if maxAttempts > 1 {
		retries = maxAttempts - 1
	}
	return backoff.WithMaxRetries(&LinearBackOff{Base: base}, uint64(retries))
}

package chat

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits base×n before the n-th retry and stops after max retries.
type linearBackOff struct {
	base    time.Duration
	max     int
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(base time.Duration, max int) *linearBackOff {
	return &linearBackOff{base: base, max: max}
}

func (l *linearBackOff) NextBackOff() time.Duration {
	if l.attempt >= l.max {
		return backoff.Stop
	}
	l.attempt++
	return l.base * time.Duration(l.attempt)
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

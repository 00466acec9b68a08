package scheduler

import (
	"context"
	"time"

	"SeaIndexBridge/internal/ports"
)

// IntervalWaiter sleeps a fixed duration per Wait.
type IntervalWaiter struct {
	interval time.Duration
}

var _ ports.Waiter = IntervalWaiter{}

// NewIntervalWaiter returns a waiter for the poll loop.
func NewIntervalWaiter(interval time.Duration) IntervalWaiter {
	return IntervalWaiter{interval: interval}
}

// Wait blocks for the interval or until ctx is done.
func (w IntervalWaiter) Wait(ctx context.Context) error {
	if w.interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(w.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

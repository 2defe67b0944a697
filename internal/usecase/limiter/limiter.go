// Package limiter caps how many calls to a shared upstream run at once.
// Waiters are admitted in arrival order.
package limiter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/threadscout/internal/metrics"
)

// Limiter is a FIFO counting limiter.
type Limiter struct {
	name     string
	max      int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	waiting  atomic.Int64
}

// New creates a limiter admitting at most max concurrent holders.
func New(name string, max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{
		name: name,
		max:  int64(max),
		sem:  semaphore.NewWeighted(int64(max)),
	}
}

// Acquire blocks until a slot is free or ctx is done.
// Every successful Acquire must be paired with exactly one Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	l.waiting.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if err != nil {
		return fmt.Errorf("%s limiter: %w", l.name, err)
	}

	metrics.LimiterWaitDuration.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
	metrics.LimiterInFlight.WithLabelValues(l.name).Set(float64(l.inFlight.Add(1)))
	return nil
}

// Release frees a slot and admits the oldest waiter.
func (l *Limiter) Release() {
	metrics.LimiterInFlight.WithLabelValues(l.name).Set(float64(l.inFlight.Add(-1)))
	l.sem.Release(1)
}

// Run executes fn while holding a slot. The slot is released even if fn panics.
func (l *Limiter) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// InFlight returns the number of current holders.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Waiting returns the number of queued callers.
func (l *Limiter) Waiting() int { return int(l.waiting.Load()) }

// Max returns the concurrency cap.
func (l *Limiter) Max() int { return int(l.max) }

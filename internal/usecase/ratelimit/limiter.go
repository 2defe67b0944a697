// Package ratelimit throttles inbound requests per caller identity.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/metrics"
)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits at most one request per identity every interval.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter. A non-positive interval admits everything.
func New(interval time.Duration, logger *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Check records an allowed request for identity, or reports how long to wait.
// Rejected requests do not move the window.
func (l *Limiter) Check(identity string) Decision {
	if l.interval <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[identity]; ok {
		if elapsed := now.Sub(last); elapsed < l.interval {
			metrics.InboundRejectedTotal.Inc()
			return Decision{RetryAfter: l.interval - elapsed}
		}
	}
	l.last[identity] = now
	return Decision{Allowed: true}
}

// Sweep forgets identities idle for longer than the interval and returns
// how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, last := range l.last {
		if now.Sub(last) >= l.interval {
			delete(l.last, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

// RunSweeper sweeps every interval until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("Swept idle rate limit identities", zap.Int("removed", n))
			}
		}
	}
}

// Package retry wraps outbound calls with a per-attempt timeout and
// exponential backoff. Rate-limited attempts wait a fixed, longer delay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/metrics"
)

// Policy describes how one upstream is retried.
type Policy struct {
	Name           string        // upstream label for logs and metrics
	Attempts       uint          // total attempts, including the first
	Timeout        time.Duration // per-attempt deadline; 0 disables
	BaseDelay      time.Duration // first backoff delay, doubled on each retry
	MaxDelay       time.Duration // backoff ceiling; 0 means uncapped
	RateLimitDelay time.Duration // fixed delay after a rate-limited attempt
}

// Delay returns the wait before retry n (zero-based) after err.
// A server Retry-After hint longer than RateLimitDelay is honored up to MaxDelay.
func (p Policy) Delay(n uint, err error) time.Duration {
	if errors.Is(err, domain.ErrUpstreamRateLimited) {
		d := p.RateLimitDelay
		if hint := domain.RetryAfter(err); hint > d && (p.MaxDelay == 0 || hint <= p.MaxDelay) {
			d = hint
		}
		return d
	}

	const maxShift = 30
	if n > maxShift {
		n = maxShift
	}
	d := p.BaseDelay << n
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn under the policy. Only transient failures are retried; the
// last error is returned once attempts are exhausted.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	attempt := func() (T, error) {
		actx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		v, err := fn(actx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, retrygo.Unrecoverable(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstreamTimeout) {
			err = fmt.Errorf("%s: %w: %w", p.Name, domain.ErrUpstreamTimeout, err)
		}
		return v, err
	}

	v, err := retrygo.DoWithData(attempt,
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(domain.IsTransient),
		retrygo.DelayType(func(n uint, err error, _ *retrygo.Config) time.Duration {
			return p.Delay(n, err)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			metrics.UpstreamRetriesTotal.WithLabelValues(p.Name, reason(err)).Inc()
			logger.Warn("Retrying upstream call",
				zap.String("upstream", p.Name),
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", attempts),
				zap.Duration("delay", p.Delay(n, err)),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		var zero T
		return zero, err //nolint:wrapcheck // callers wrap with their own operation context
	}
	return v, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "timeout"
	default:
		return "unavailable"
	}
}

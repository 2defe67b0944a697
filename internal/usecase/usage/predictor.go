package usage

import (
	"context"
	"math"
	"time"

	"github.com/kailas-cloud/threadscout/internal/domain"
)

// Estimate is an interpolated view of a provider's request budget.
type Estimate struct {
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	At        time.Time `json:"at"`
	Recovered bool      `json:"recovered"`
}

// Predict interpolates snap at now. Usage recovers linearly from the observed
// value toward zero across the window [ObservedAt, ResetAt] and is fully
// recovered once ResetAt has passed.
func Predict(snap domain.RateLimitSnapshot, now time.Time) Estimate {
	e := Estimate{Limit: snap.Limit, ResetAt: snap.ResetAt, At: now}

	window := snap.ResetAt.Sub(snap.ObservedAt)
	if window <= 0 || !now.Before(snap.ResetAt) {
		e.Remaining = snap.Limit
		e.Recovered = true
		return e
	}

	progress := float64(now.Sub(snap.ObservedAt)) / float64(window)
	progress = math.Max(0, math.Min(1, progress))

	e.Used = int(math.Round(float64(snap.Used()) * (1 - progress)))
	e.Remaining = snap.Limit - e.Used
	return e
}

// Run emits an estimate every tick until the reset time passes. The last
// value sent is always the recovered estimate, after which the channel closes.
// Closing also happens when ctx is done.
func Run(ctx context.Context, snap domain.RateLimitSnapshot, tick time.Duration, now func() time.Time) <-chan Estimate {
	out := make(chan Estimate, 1)
	go func() {
		defer close(out)

		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			e := Predict(snap, now())
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
			if e.Recovered {
				return
			}
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

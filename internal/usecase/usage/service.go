// Package usage reports model quota and token budget state to callers.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/threadscout/internal/domain"
)

// Budget is one scope's token accounting.
type Budget struct {
	Scope            string `json:"scope"`
	DailyUsed        int64  `json:"daily_used"`
	MonthlyUsed      int64  `json:"monthly_used"`
	RemainingDaily   int64  `json:"remaining_daily"`
	RemainingMonthly int64  `json:"remaining_monthly"`
	Exhausted        bool   `json:"exhausted"`
}

// Report is the usage payload.
type Report struct {
	RateLimit *domain.RateLimitSnapshot `json:"rate_limit,omitempty"`
	Estimate  *Estimate                 `json:"estimate,omitempty"`
	Budgets   []Budget                  `json:"budgets"`
}

// Service tracks the latest provider rate-limit snapshot.
type Service struct {
	mu      sync.RWMutex
	latest  domain.RateLimitSnapshot
	budgets []BudgetReader
	now     func() time.Time
}

// New creates a Service. Nil budget readers are skipped.
func New(budgets ...BudgetReader) *Service {
	s := &Service{now: time.Now}
	for _, b := range budgets {
		if b != nil {
			s.budgets = append(s.budgets, b)
		}
	}
	return s
}

// Observe records snap if it is newer than what is held.
func (s *Service) Observe(snap domain.RateLimitSnapshot) {
	s.mu.Lock()
	s.latest = s.latest.Newer(snap)
	s.mu.Unlock()
}

// Latest returns the newest observed snapshot and whether one exists.
func (s *Service) Latest() (domain.RateLimitSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest.Valid()
}

// GetReport builds a usage report.
func (s *Service) GetReport(_ context.Context) Report {
	r := Report{Budgets: make([]Budget, 0, len(s.budgets))}

	if snap, ok := s.Latest(); ok {
		est := Predict(snap, s.now())
		r.RateLimit = &snap
		r.Estimate = &est
	}

	for _, b := range s.budgets {
		daily, monthly := b.RemainingDaily(), b.RemainingMonthly()
		r.Budgets = append(r.Budgets, Budget{
			Scope:            b.Scope(),
			DailyUsed:        b.DailyUsed(),
			MonthlyUsed:      b.MonthlyUsed(),
			RemainingDaily:   daily,
			RemainingMonthly: monthly,
			Exhausted:        daily == 0 || monthly == 0,
		})
	}
	return r
}

package domain

import "time"

// RateLimitSnapshot is one observation of a provider's request budget.
type RateLimitSnapshot struct {
	Remaining  int       `json:"remaining"`
	Limit      int       `json:"limit"`
	ResetAt    time.Time `json:"reset_at"`
	ObservedAt time.Time `json:"observed_at"`
}

// Valid reports whether the snapshot carries usable telemetry.
func (s RateLimitSnapshot) Valid() bool {
	return s.Limit > 0 && !s.ObservedAt.IsZero()
}

// Used returns the consumed part of the budget at observation time.
func (s RateLimitSnapshot) Used() int {
	used := s.Limit - s.Remaining
	if used < 0 {
		return 0
	}
	return used
}

// Newer returns whichever of s and other was observed last.
func (s RateLimitSnapshot) Newer(other RateLimitSnapshot) RateLimitSnapshot {
	if !other.Valid() {
		return s
	}
	if !s.Valid() || other.ObservedAt.After(s.ObservedAt) {
		return other
	}
	return s
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidQuery signals a missing or malformed user query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrRateLimited signals that the caller exceeded the inbound request rate.
	ErrRateLimited = errors.New("rate limited")
	// ErrUpstreamRateLimited signals a 429 from an external service.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	// ErrUpstreamTimeout signals that an external call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamUnavailable signals a 5xx or transport failure from an external service.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrEmbeddingFailed signals that the embedding provider could not produce vectors.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrModelOutputMalformed signals model output that could not be parsed.
	ErrModelOutputMalformed = errors.New("model output malformed")
	// ErrBudgetExceeded signals an exhausted model token budget.
	ErrBudgetExceeded = errors.New("model token budget exceeded")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
)

// RateLimitError carries a retry hint alongside a rate-limit sentinel.
type RateLimitError struct {
	Sentinel   error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", e.Sentinel.Error(), e.RetryAfter)
	}
	return e.Sentinel.Error()
}

func (e *RateLimitError) Unwrap() error { return e.Sentinel }

// NewRateLimited creates an inbound rate-limit error.
func NewRateLimited(retryAfter time.Duration) error {
	return &RateLimitError{Sentinel: ErrRateLimited, RetryAfter: retryAfter}
}

// NewUpstreamRateLimited creates an upstream rate-limit error.
func NewUpstreamRateLimited(retryAfter time.Duration) error {
	return &RateLimitError{Sentinel: ErrUpstreamRateLimited, RetryAfter: retryAfter}
}

// RetryAfter extracts the retry hint from err, or 0.
func RetryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUpstreamRateLimited) ||
		errors.Is(err, ErrUpstreamTimeout) ||
		errors.Is(err, ErrUpstreamUnavailable)
}

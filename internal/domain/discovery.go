package domain

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Query length bounds after trimming.
const (
	MinQueryLength = 2
	MaxQueryLength = 200
)

// MaxExpandedQueries caps the expansion result.
const MaxExpandedQueries = 3

// KeyPrefix namespaces every key written to the durable store.
const KeyPrefix = "threadscout:"

// DiscoveryRequest is one caller query.
type DiscoveryRequest struct {
	Query     string
	Sort      SortOrder
	TimeRange TimeRange
	APIKey    string
}

// NormalizeQuery trims q and enforces the length bounds.
func NormalizeQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	n := utf8.RuneCountInString(q)
	if n < MinQueryLength || n > MaxQueryLength {
		return "", fmt.Errorf("%w: query must be %d-%d characters", ErrInvalidQuery, MinQueryLength, MaxQueryLength)
	}
	return q, nil
}

// Expansion is the ordered set of phrasings derived from one query.
type Expansion struct {
	Queries   []string
	Intent    Intent
	RateLimit RateLimitSnapshot
}

// FilterStats reports how many candidates survived each stage.
type FilterStats struct {
	Input        int `json:"input"`
	SemanticPass int `json:"semantic_pass"`
	Analyzed     int `json:"analyzed"`
	Output       int `json:"output"`
}

// DiscoveryResponse is what the pipeline hands back to callers.
type DiscoveryResponse struct {
	Posts           []Post             `json:"posts"`
	ExpandedQueries []string           `json:"expanded_queries"`
	Intent          Intent             `json:"intent"`
	Stats           FilterStats        `json:"stats"`
	Cached          bool               `json:"cached"`
	RateLimit       *RateLimitSnapshot `json:"rate_limit,omitempty"`
}

// ScoreMap maps post id to a relevance score.
type ScoreMap map[string]float64

// Merge copies every entry of other into m.
func (m ScoreMap) Merge(other ScoreMap) {
	for id, s := range other {
		m[id] = s
	}
}

type modelKeyCtx struct{}

// ContextWithModelKey attaches a caller-supplied model API credential.
func ContextWithModelKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, modelKeyCtx{}, key)
}

// ModelKeyFromContext returns the caller credential, or "".
func ModelKeyFromContext(ctx context.Context) string {
	k, _ := ctx.Value(modelKeyCtx{}).(string)
	return k
}

package discovery

import (
	"context"

	"github.com/kailas-cloud/threadscout/internal/domain"
)

type expander interface {
	Expand(ctx context.Context, query string) domain.Expansion
}

type searcher interface {
	Search(ctx context.Context, query string, sort domain.SortOrder, tr domain.TimeRange) ([]domain.Post, error)
}

type semanticFilter interface {
	Filter(ctx context.Context, posts []domain.Post, query string, intent domain.Intent) ([]domain.Post, error)
}

type scorer interface {
	Score(ctx context.Context, posts []domain.Post, query string) ([]domain.Post, domain.RateLimitSnapshot)
}

type responseCache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any) error
}

type usageObserver interface {
	Observe(snap domain.RateLimitSnapshot)
}

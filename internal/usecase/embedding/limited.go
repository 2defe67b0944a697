package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/retry"
)

// slots is the admission contract of the shared concurrency limiter.
type slots interface {
	Acquire(ctx context.Context) error
	Release()
}

// LimitedEmbedder retries provider calls under a policy and holds a limiter
// slot only for the duration of each attempt, never across backoff sleeps.
type LimitedEmbedder struct {
	inner   embedder
	limiter slots
	policy  retry.Policy
	logger  *zap.Logger
}

var _ embedder = (*LimitedEmbedder)(nil)

// NewLimitedEmbedder wraps inner with the limiter and retry policy.
func NewLimitedEmbedder(inner embedder, limiter slots, policy retry.Policy, logger *zap.Logger) *LimitedEmbedder {
	return &LimitedEmbedder{inner: inner, limiter: limiter, policy: policy, logger: logger}
}

// Embed vectorizes one text.
func (l *LimitedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return retry.Do(ctx, l.policy, l.logger, func(ctx context.Context) (domain.EmbeddingResult, error) {
		if err := l.limiter.Acquire(ctx); err != nil {
			return domain.EmbeddingResult{}, err //nolint:wrapcheck // limiter already names itself
		}
		defer l.limiter.Release()
		return l.inner.Embed(ctx, text)
	})
}

// BatchEmbed vectorizes texts in one provider call.
func (l *LimitedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return retry.Do(ctx, l.policy, l.logger, func(ctx context.Context) (domain.BatchEmbeddingResult, error) {
		if err := l.limiter.Acquire(ctx); err != nil {
			return domain.BatchEmbeddingResult{}, err //nolint:wrapcheck // limiter already names itself
		}
		defer l.limiter.Release()
		return l.inner.BatchEmbed(ctx, texts)
	})
}

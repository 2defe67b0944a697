// Package llm decorates the chat client with budget enforcement, retries
// and token accounting.
package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/logger"
	"github.com/kailas-cloud/threadscout/internal/metrics"
	"github.com/kailas-cloud/threadscout/internal/retry"
)

// Purpose labels a model call in logs and metrics.
type Purpose string

// Known purposes.
const (
	PurposeExpansion Purpose = "expansion"
	PurposeRelevance Purpose = "relevance"
)

type chatClient interface {
	Complete(ctx context.Context, req domain.ChatRequest) (domain.Completion, error)
	Model() string
}

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
}

// InstrumentedChat runs chat completions under a retry policy and token budget.
type InstrumentedChat struct {
	inner  chatClient
	policy retry.Policy
	budget BudgetChecker
}

// NewInstrumentedChat wraps inner. A nil budget disables enforcement.
func NewInstrumentedChat(inner chatClient, policy retry.Policy, budget BudgetChecker) *InstrumentedChat {
	return &InstrumentedChat{inner: inner, policy: policy, budget: budget}
}

// Complete sends req, retrying transient failures.
func (c *InstrumentedChat) Complete(ctx context.Context, purpose Purpose, req domain.ChatRequest) (domain.Completion, error) {
	log := logger.FromContext(ctx)

	if c.budget != nil {
		if err := c.budget.Check(ctx); err != nil {
			log.Warn("Model budget exceeded", zap.String("purpose", string(purpose)), zap.Error(err))
			return domain.Completion{}, fmt.Errorf("%s: %w", purpose, err)
		}
	}

	start := time.Now()
	out, err := retry.Do(ctx, c.policy, log, func(ctx context.Context) (domain.Completion, error) {
		return c.inner.Complete(ctx, req)
	})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("%s: %w", purpose, err)
	}

	if out.TotalTokens > 0 {
		metrics.ModelTokensTotal.WithLabelValues(c.inner.Model(), string(purpose)).Add(float64(out.TotalTokens))
		if c.budget != nil {
			c.budget.Record(int64(out.TotalTokens))
		}
	}

	log.Debug("Model call completed",
		zap.String("purpose", string(purpose)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("total_tokens", out.TotalTokens),
		zap.Int("requests_remaining", out.RateLimit.Remaining),
	)
	return out, nil
}

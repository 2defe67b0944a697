package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/metrics"
)

// ChatConfig holds chat-completion provider settings.
type ChatConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// Chat is a chat-completion client for the OpenAI-compatible API.
// A caller credential in the request context overrides the configured key.
type Chat struct {
	client  *openai.Client
	baseURL string
	model   string
	now     func() time.Time
	logger  *zap.Logger
}

// NewChat creates a chat-completion client.
func NewChat(cfg *ChatConfig) *Chat {
	return &Chat{
		client:  openai.NewClientWithConfig(newClientConfig(cfg.APIKey, cfg.BaseURL)),
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		now:     time.Now,
		logger:  cfg.Logger,
	}
}

// Model returns the configured model name.
func (c *Chat) Model() string { return c.model }

func (c *Chat) clientFor(ctx context.Context) *openai.Client {
	if key := domain.ModelKeyFromContext(ctx); key != "" {
		return openai.NewClientWithConfig(newClientConfig(key, c.baseURL))
	}
	return c.client
}

// Complete sends one chat request and returns the first choice along with
// the provider's request-budget headers.
func (c *Chat) Complete(ctx context.Context, req domain.ChatRequest) (domain.Completion, error) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	creq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.clientFor(ctx).CreateChatCompletion(ctx, creq)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("chat", "error").Inc()
		return domain.Completion{}, classifyError("chat completion", err, nil)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("chat", "ok").Inc()

	if len(resp.Choices) == 0 {
		return domain.Completion{}, fmt.Errorf("chat completion returned no choices: %w", domain.ErrModelOutputMalformed)
	}

	snap := c.snapshot(resp.GetRateLimitHeaders())
	if snap.Valid() {
		metrics.ModelRequestsRemaining.Set(float64(snap.Remaining))
	}

	return domain.Completion{
		Text:        resp.Choices[0].Message.Content,
		TotalTokens: resp.Usage.TotalTokens,
		RateLimit:   snap,
	}, nil
}

func (c *Chat) snapshot(h openai.RateLimitHeaders) domain.RateLimitSnapshot {
	if h.LimitRequests <= 0 {
		return domain.RateLimitSnapshot{}
	}
	now := c.now()
	snap := domain.RateLimitSnapshot{
		Remaining:  h.RemainingRequests,
		Limit:      h.LimitRequests,
		ObservedAt: now,
		ResetAt:    now,
	}
	if h.ResetRequests != "" {
		if d, err := time.ParseDuration(string(h.ResetRequests)); err == nil {
			snap.ResetAt = now.Add(d)
		}
	}
	return snap
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Chat) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

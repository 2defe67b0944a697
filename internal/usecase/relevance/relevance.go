// Package relevance scores candidate posts against the query with a chat model.
package relevance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/logger"
	"github.com/kailas-cloud/threadscout/internal/metrics"
	"github.com/kailas-cloud/threadscout/internal/prompt"
	"github.com/kailas-cloud/threadscout/internal/usecase/llm"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 10
)

type chat interface {
	Complete(ctx context.Context, purpose llm.Purpose, req domain.ChatRequest) (domain.Completion, error)
}

// Options tune batching.
type Options struct {
	BatchSize     int
	FallbackScore float64
	Temperature   float32
}

// Scorer rates posts in concurrent, independently failing batches.
type Scorer struct {
	chat chat
	pool *ants.Pool
	opts Options
}

// New creates a scorer that runs batches on pool.
func New(c chat, pool *ants.Pool, opts Options) *Scorer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 10
	}
	return &Scorer{chat: c, pool: pool, opts: opts}
}

type outcome struct {
	scores    domain.ScoreMap
	rateLimit domain.RateLimitSnapshot
	err       error
}

// Score returns copies of posts with RelevanceScore set, in input order,
// plus the newest rate-limit snapshot seen. A failed batch scores every one
// of its posts with the fallback; a post the model skipped scores 0.
func (s *Scorer) Score(ctx context.Context, posts []domain.Post, query string) ([]domain.Post, domain.RateLimitSnapshot) {
	if len(posts) == 0 {
		return nil, domain.RateLimitSnapshot{}
	}

	batches := chunk(posts, s.opts.BatchSize)
	outcomes := make([]outcome, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcomes[i] = s.scoreBatch(ctx, batch, query)
		}
		if err := s.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	log := logger.FromContext(ctx)
	merged := make(domain.ScoreMap, len(posts))
	var snap domain.RateLimitSnapshot
	for i, o := range outcomes {
		snap = snap.Newer(o.rateLimit)
		if o.err != nil {
			metrics.RelevanceBatchesTotal.WithLabelValues("fallback").Inc()
			log.Warn("Relevance batch failed, using fallback score",
				zap.Int("batch", i),
				zap.Int("posts", len(batches[i])),
				zap.Float64("fallback_score", s.opts.FallbackScore),
				zap.Error(o.err),
			)
			for _, p := range batches[i] {
				merged[p.ID] = s.opts.FallbackScore
			}
			continue
		}
		metrics.RelevanceBatchesTotal.WithLabelValues("ok").Inc()
		merged.Merge(o.scores)
	}

	out := make([]domain.Post, len(posts))
	for i, p := range posts {
		p.RelevanceScore = domain.FloatPtr(merged[p.ID])
		out[i] = p
	}
	return out, snap
}

func (s *Scorer) scoreBatch(ctx context.Context, batch []domain.Post, query string) outcome {
	res, err := s.chat.Complete(ctx, llm.PurposeRelevance, domain.ChatRequest{
		Messages:    prompt.Relevance(query, batch),
		Temperature: s.opts.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return outcome{err: err}
	}

	scores, err := parseScores(res.Text, batch)
	return outcome{scores: scores, rateLimit: res.RateLimit, err: err}
}

type idScore struct {
	ID    string   `json:"id"`
	Score *float64 `json:"score"`
}

// parseScores accepts {"<id>": n}, {"scores": [{"id","score"}]} or a bare
// array of {"id","score"}. Ids outside the batch are ignored.
func parseScores(text string, batch []domain.Post) (domain.ScoreMap, error) {
	raw, err := prompt.ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelOutputMalformed, err)
	}

	var list []idScore
	if prompt.IsArray(raw) {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrModelOutputMalformed, err)
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrModelOutputMalformed, err)
		}
		if nested, ok := obj["scores"]; ok && prompt.IsArray(nested) {
			if err := json.Unmarshal(nested, &list); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrModelOutputMalformed, err)
			}
		} else {
			for id, v := range obj {
				var f float64
				if json.Unmarshal(v, &f) == nil {
					list = append(list, idScore{ID: id, Score: &f})
				}
			}
		}
	}

	want := make(map[string]struct{}, len(batch))
	for _, p := range batch {
		want[p.ID] = struct{}{}
	}

	scores := make(domain.ScoreMap, len(list))
	for _, e := range list {
		if _, ok := want[e.ID]; !ok || e.Score == nil {
			continue
		}
		if v, ok := clamp(*e.Score); ok {
			scores[e.ID] = v
		}
	}
	if len(scores) == 0 {
		return nil, errors.Join(domain.ErrModelOutputMalformed, errors.New("no scores for batch posts"))
	}
	return scores, nil
}

func clamp(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return math.Max(MinScore, math.Min(MaxScore, v)), true
}

func chunk(posts []domain.Post, size int) [][]domain.Post {
	out := make([][]domain.Post, 0, (len(posts)+size-1)/size)
	for start := 0; start < len(posts); start += size {
		out = append(out, posts[start:min(start+size, len(posts))])
	}
	return out
}

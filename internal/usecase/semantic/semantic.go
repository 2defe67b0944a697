// Package semantic filters candidate posts by embedding similarity to the query.
package semantic

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/logger"
)

// BodyLimit caps the body text embedded per candidate.
const BodyLimit = 200

var thresholds = map[domain.Intent]float64{
	domain.IntentHowTo:   0.45,
	domain.IntentProblem: 0.40,
	domain.IntentTrend:   0.35,
	domain.IntentStory:   0.30,
}

// AdaptiveThreshold returns the minimum similarity a post needs for intent.
// Unknown intents use the problem threshold.
func AdaptiveThreshold(intent domain.Intent) float64 {
	if t, ok := thresholds[intent]; ok {
		return t
	}
	return thresholds[domain.IntentProblem]
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Mismatched or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, s))
}

// Filter embeds the query together with every candidate in one batch call.
type Filter struct {
	embedder domain.BatchEmbedder
	failOpen bool
}

// New creates a filter. With failOpen set, an embedding failure passes
// candidates through unscored instead of returning nothing.
func New(e domain.BatchEmbedder, failOpen bool) *Filter {
	return &Filter{embedder: e, failOpen: failOpen}
}

// Filter keeps posts whose similarity to query reaches the intent threshold.
func (f *Filter) Filter(ctx context.Context, posts []domain.Post, query string, intent domain.Intent) ([]domain.Post, error) {
	return f.FilterWithThreshold(ctx, posts, query, AdaptiveThreshold(intent))
}

// FilterWithThreshold is Filter with an explicit threshold.
// Survivors keep input order and carry SemanticScore.
func (f *Filter) FilterWithThreshold(
	ctx context.Context, posts []domain.Post, query string, threshold float64,
) ([]domain.Post, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	scores, err := f.score(ctx, posts, query)
	if err != nil {
		log := logger.FromContext(ctx)
		if f.failOpen {
			log.Warn("Semantic filter failed, passing candidates through", zap.Int("candidates", len(posts)), zap.Error(err))
			return posts, nil
		}
		log.Warn("Semantic filter failed, dropping candidates", zap.Int("candidates", len(posts)), zap.Error(err))
		return nil, err
	}

	out := make([]domain.Post, 0, len(posts))
	for i, p := range posts {
		if scores[i] < threshold {
			continue
		}
		p.SemanticScore = domain.FloatPtr(scores[i])
		out = append(out, p)
	}
	return out, nil
}

func (f *Filter) score(ctx context.Context, posts []domain.Post, query string) ([]float64, error) {
	texts := make([]string, 0, len(posts)+1)
	texts = append(texts, query)
	for i := range posts {
		texts = append(texts, posts[i].EmbeddingText(BodyLimit))
	}

	res, err := f.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("semantic embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("semantic embed: %w: got %d vectors for %d texts",
			domain.ErrEmbeddingFailed, len(res.Embeddings), len(texts))
	}

	q := res.Embeddings[0]
	scores := make([]float64, len(posts))
	for i := range posts {
		scores[i] = CosineSimilarity(q, res.Embeddings[i+1])
	}
	return scores, nil
}

// Package expansion rewrites one user query into a few search phrasings.
package expansion

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/logger"
	"github.com/kailas-cloud/threadscout/internal/prompt"
	"github.com/kailas-cloud/threadscout/internal/usecase/llm"
)

type chat interface {
	Complete(ctx context.Context, purpose llm.Purpose, req domain.ChatRequest) (domain.Completion, error)
}

// Service expands queries with a chat model.
type Service struct {
	chat        chat
	temperature float32
}

// New creates an expansion service.
func New(c chat, temperature float32) *Service {
	return &Service{chat: c, temperature: temperature}
}

type reply struct {
	Queries []string `json:"queries"`
	Intent  string   `json:"intent"`
}

// Expand never fails: a model or parse failure degrades to the original query.
// The original query is always kept as the first phrasing.
func (s *Service) Expand(ctx context.Context, query string) domain.Expansion {
	log := logger.FromContext(ctx)
	fallback := domain.Expansion{Queries: []string{query}, Intent: domain.DetectIntent(query)}

	out, err := s.chat.Complete(ctx, llm.PurposeExpansion, domain.ChatRequest{
		Messages:    prompt.Expansion(query),
		Temperature: s.temperature,
		JSONMode:    true,
	})
	if err != nil {
		log.Warn("Query expansion failed, using original query", zap.Error(err))
		return fallback
	}
	fallback.RateLimit = out.RateLimit

	r, err := parse(out.Text)
	if err != nil {
		log.Warn("Query expansion output malformed, using original query",
			zap.String("output", domain.Truncate(out.Text, 200)), zap.Error(err))
		return fallback
	}

	exp := domain.Expansion{
		Queries:   merge(query, r.Queries),
		Intent:    fallback.Intent,
		RateLimit: out.RateLimit,
	}
	if intent, ok := domain.ParseIntent(r.Intent); ok {
		exp.Intent = intent
	}

	log.Debug("Query expanded", zap.Strings("queries", exp.Queries), zap.String("intent", string(exp.Intent)))
	return exp
}

// parse accepts {"queries": [...], "intent": "..."} or a bare array of strings.
func parse(text string) (reply, error) {
	raw, err := prompt.ExtractJSON(text)
	if err != nil {
		return reply{}, err
	}
	var r reply
	if prompt.IsArray(raw) {
		err = json.Unmarshal(raw, &r.Queries)
	} else {
		err = json.Unmarshal(raw, &r)
	}
	if err != nil {
		return reply{}, domain.ErrModelOutputMalformed
	}
	return r, nil
}

// merge puts query first, verbatim, then adds distinct non-empty phrasings up
// to the cap. Only model output is sanitized.
func merge(query string, phrasings []string) []string {
	out := make([]string, 1, domain.MaxExpandedQueries)
	out[0] = query
	seen := map[string]struct{}{normalize(query): {}}
	for _, p := range phrasings {
		if len(out) == domain.MaxExpandedQueries {
			break
		}
		q := strings.Join(strings.Fields(prompt.Sanitize(p)), " ")
		if q == "" {
			continue
		}
		key := normalize(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}

func normalize(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

package expansion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/usecase/llm"
)

type mockChat struct {
	text    string
	err     error
	purpose llm.Purpose
	req     domain.ChatRequest
}

func (m *mockChat) Complete(_ context.Context, purpose llm.Purpose, req domain.ChatRequest) (domain.Completion, error) {
	m.purpose = purpose
	m.req = req
	if m.err != nil {
		return domain.Completion{}, m.err
	}
	return domain.Completion{
		Text:      m.text,
		RateLimit: domain.RateLimitSnapshot{Remaining: 9, Limit: 10, ObservedAt: time.Unix(100, 0)},
	}, nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExpand(t *testing.T) {
	const query = "best budget mechanical keyboard"

	tests := []struct {
		name       string
		text       string
		wantQ      []string
		wantIntent domain.Intent
	}{
		{
			name:       "object",
			text:       `{"queries": ["budget mechanical keyboard recommendations", "cheap mech keyboard"], "intent": "how-to"}`,
			wantQ:      []string{query, "budget mechanical keyboard recommendations", "cheap mech keyboard"},
			wantIntent: domain.IntentHowTo,
		},
		{
			name:       "fenced with prose",
			text:       "Here:\n```json\n{\"queries\": [\"cheap mech keyboard\"], \"intent\": \"trend\"}\n```",
			wantQ:      []string{query, "cheap mech keyboard"},
			wantIntent: domain.IntentTrend,
		},
		{
			name:       "bare array",
			text:       `["a keyboard", "b keyboard"]`,
			wantQ:      []string{query, "a keyboard", "b keyboard"},
			wantIntent: domain.IntentProblem,
		},
		{
			name:       "dedup and cap",
			text:       `{"queries": ["Best Budget Mechanical Keyboard", "one", "", "ONE", "two", "three"]}`,
			wantQ:      []string{query, "one", "two"},
			wantIntent: domain.IntentProblem,
		},
		{
			name:       "unknown intent falls back to keywords",
			text:       `{"queries": ["x"], "intent": "banana"}`,
			wantQ:      []string{query, "x"},
			wantIntent: domain.IntentProblem,
		},
		{
			name:       "unparseable",
			text:       "I'd rather not.",
			wantQ:      []string{query},
			wantIntent: domain.IntentProblem,
		},
		{
			name:       "wrong shape",
			text:       `{"queries": "not a list"}`,
			wantQ:      []string{query},
			wantIntent: domain.IntentProblem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockChat{text: tt.text}
			exp := New(c, 0.3).Expand(context.Background(), query)

			if !equal(exp.Queries, tt.wantQ) {
				t.Errorf("queries = %q, want %q", exp.Queries, tt.wantQ)
			}
			if exp.Intent != tt.wantIntent {
				t.Errorf("intent = %q, want %q", exp.Intent, tt.wantIntent)
			}
			if !exp.RateLimit.Valid() {
				t.Error("expected rate limit snapshot to propagate")
			}
			if c.purpose != llm.PurposeExpansion || !c.req.JSONMode || c.req.Temperature != 0.3 {
				t.Errorf("unexpected request: purpose=%s req=%+v", c.purpose, c.req)
			}
		})
	}
}

func TestExpand_ModelFailure(t *testing.T) {
	c := &mockChat{err: errors.New("boom")}
	exp := New(c, 0).Expand(context.Background(), "my story about layoffs")

	if !equal(exp.Queries, []string{"my story about layoffs"}) {
		t.Errorf("expected fallback to original query, got %q", exp.Queries)
	}
	if exp.Intent != domain.IntentStory {
		t.Errorf("expected keyword intent, got %q", exp.Intent)
	}
	if exp.RateLimit.Valid() {
		t.Error("expected no rate limit snapshot on failure")
	}
}

func TestExpand_NeverExceedsCap(t *testing.T) {
	c := &mockChat{text: `{"queries": ["a", "b", "c", "d", "e"]}`}
	exp := New(c, 0).Expand(context.Background(), "q")
	if len(exp.Queries) > domain.MaxExpandedQueries {
		t.Errorf("expected at most %d queries, got %d", domain.MaxExpandedQueries, len(exp.Queries))
	}
}

func TestExpand_OriginalQueryNotSanitized(t *testing.T) {
	const query = "how to act as a landlord"

	ok := New(&mockChat{text: `{"queries": ["landlord tips", "act as a landlord for friends"]}`}, 0).
		Expand(context.Background(), query)
	failed := New(&mockChat{err: errors.New("boom")}, 0).
		Expand(context.Background(), query)

	if ok.Queries[0] != query {
		t.Errorf("first phrasing rewritten: got %q", ok.Queries[0])
	}
	if failed.Queries[0] != ok.Queries[0] {
		t.Errorf("searched text depends on model outcome: %q vs %q", failed.Queries[0], ok.Queries[0])
	}
	for _, q := range ok.Queries[1:] {
		if strings.Contains(strings.ToLower(q), "act as") {
			t.Errorf("model phrasing kept injection phrase: %q", q)
		}
	}
}

package relevance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/metrics"
	"github.com/kailas-cloud/threadscout/internal/usecase/llm"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

var idRe = regexp.MustCompile(`\[id=([^\]]+)\]`)

// scriptedChat scores every post 8 unless the batch contains failID.
type scriptedChat struct {
	mu      sync.Mutex
	failID  string
	reply   func(ids []string) string
	calls   int
	batches [][]string
}

func (c *scriptedChat) Complete(_ context.Context, purpose llm.Purpose, req domain.ChatRequest) (domain.Completion, error) {
	var ids []string
	for _, m := range idRe.FindAllStringSubmatch(req.Messages[1].Content, -1) {
		ids = append(ids, m[1])
	}

	c.mu.Lock()
	c.calls++
	c.batches = append(c.batches, ids)
	c.mu.Unlock()

	if purpose != llm.PurposeRelevance {
		return domain.Completion{}, errors.New("wrong purpose")
	}
	for _, id := range ids {
		if id == c.failID {
			return domain.Completion{}, domain.ErrUpstreamUnavailable
		}
	}
	text := ""
	if c.reply != nil {
		text = c.reply(ids)
	} else {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprintf("%q: 8", id)
		}
		text = "{" + strings.Join(parts, ",") + "}"
	}
	return domain.Completion{
		Text:      text,
		RateLimit: domain.RateLimitSnapshot{Remaining: 100 - len(ids), Limit: 100, ObservedAt: time.Now()},
	}, nil
}

func makePosts(n int) []domain.Post {
	out := make([]domain.Post, n)
	for i := range out {
		out[i] = domain.Post{ID: fmt.Sprintf("p%02d", i), Title: fmt.Sprintf("post %d", i)}
	}
	return out
}

func newPool(t *testing.T) *ants.Pool {
	t.Helper()
	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("ants.NewPool: %v", err)
	}
	t.Cleanup(pool.Release)
	return pool
}

func TestScore_BatchFaultIsolation(t *testing.T) {
	chat := &scriptedChat{failID: "p15"}
	s := New(chat, newPool(t), Options{BatchSize: 10, FallbackScore: 5})

	fallbackBefore := testutil.ToFloat64(metrics.RelevanceBatchesTotal.WithLabelValues("fallback"))
	out, snap := s.Score(context.Background(), makePosts(30), "q")

	if len(out) != 30 {
		t.Fatalf("expected 30 posts, got %d", len(out))
	}
	if chat.calls != 3 {
		t.Errorf("expected 3 batches, got %d", chat.calls)
	}
	for i, p := range out {
		if p.ID != fmt.Sprintf("p%02d", i) {
			t.Fatalf("order changed at %d: %s", i, p.ID)
		}
		want := 8.0
		if i >= 10 && i < 20 {
			want = 5
		}
		if p.RelevanceScore == nil || *p.RelevanceScore != want {
			t.Errorf("post %s: expected score %v, got %v", p.ID, want, p.RelevanceScore)
		}
	}
	if got := testutil.ToFloat64(metrics.RelevanceBatchesTotal.WithLabelValues("fallback")) - fallbackBefore; got != 1 {
		t.Errorf("expected 1 fallback batch metric, got %v", got)
	}
	if !snap.Valid() || snap.Limit != 100 {
		t.Errorf("expected rate limit snapshot from successful batches, got %+v", snap)
	}
}

func TestScore_MissingPostDefaultsToZero(t *testing.T) {
	chat := &scriptedChat{reply: func(ids []string) string {
		return fmt.Sprintf(`Scores: {"%s": 7}`, ids[0])
	}}
	s := New(chat, newPool(t), Options{BatchSize: 10, FallbackScore: 5})

	out, _ := s.Score(context.Background(), makePosts(3), "q")
	if *out[0].RelevanceScore != 7 {
		t.Errorf("expected 7, got %v", *out[0].RelevanceScore)
	}
	for _, p := range out[1:] {
		if *p.RelevanceScore != 0 {
			t.Errorf("post %s: expected 0 for unscored post, got %v", p.ID, *p.RelevanceScore)
		}
	}
}

func TestScore_UnparseableBatchFallsBack(t *testing.T) {
	chat := &scriptedChat{reply: func([]string) string { return "I can't do that" }}
	s := New(chat, newPool(t), Options{BatchSize: 10, FallbackScore: 5})

	out, _ := s.Score(context.Background(), makePosts(4), "q")
	for _, p := range out {
		if *p.RelevanceScore != 5 {
			t.Errorf("post %s: expected fallback 5, got %v", p.ID, *p.RelevanceScore)
		}
	}
}

func TestScore_Empty(t *testing.T) {
	chat := &scriptedChat{}
	out, snap := New(chat, newPool(t), Options{}).Score(context.Background(), nil, "q")
	if out != nil || snap.Valid() || chat.calls != 0 {
		t.Errorf("expected no work for empty input")
	}
}

func TestScore_UnevenBatches(t *testing.T) {
	chat := &scriptedChat{}
	s := New(chat, newPool(t), Options{BatchSize: 10, FallbackScore: 5})

	out, _ := s.Score(context.Background(), makePosts(22), "q")
	if len(out) != 22 || chat.calls != 3 {
		t.Fatalf("expected 22 posts in 3 batches, got %d posts in %d batches", len(out), chat.calls)
	}
	sizes := map[int]int{}
	for _, b := range chat.batches {
		sizes[len(b)]++
	}
	if sizes[10] != 2 || sizes[2] != 1 {
		t.Errorf("unexpected batch sizes: %v", sizes)
	}
}

func TestParseScores(t *testing.T) {
	batch := makePosts(2) // p00, p01

	tests := []struct {
		name    string
		text    string
		want    domain.ScoreMap
		wantErr bool
	}{
		{"map", `{"p00": 7, "p01": 3}`, domain.ScoreMap{"p00": 7, "p01": 3}, false},
		{"nested list", `{"scores": [{"id": "p00", "score": 9}]}`, domain.ScoreMap{"p00": 9}, false},
		{"bare list", `[{"id": "p01", "score": 4.5}]`, domain.ScoreMap{"p01": 4.5}, false},
		{"clamped", `{"p00": 14, "p01": -2}`, domain.ScoreMap{"p00": 10, "p01": 0}, false},
		{"foreign ids ignored", `{"p00": 6, "zzz": 9}`, domain.ScoreMap{"p00": 6}, false},
		{"non-numeric skipped", `{"p00": "high", "p01": 2}`, domain.ScoreMap{"p01": 2}, false},
		{"nothing usable", `{"zzz": 9}`, nil, true},
		{"no json", `no`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScores(tt.text, batch)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrModelOutputMalformed) {
					t.Fatalf("expected ErrModelOutputMalformed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for id, v := range tt.want {
				if got[id] != v {
					t.Errorf("score[%s] = %v, want %v", id, got[id], v)
				}
			}
		})
	}
}

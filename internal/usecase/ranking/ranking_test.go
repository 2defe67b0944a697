package ranking

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kailas-cloud/threadscout/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ids(posts []domain.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestBuildFrequency_CountsListOnce(t *testing.T) {
	lists := [][]domain.Post{
		{{ID: "a"}, {ID: "a"}, {ID: "b"}},
		{{ID: "a"}},
		{},
	}
	freq := BuildFrequency(lists)
	if freq["a"] != 2 || freq["b"] != 1 {
		t.Errorf("unexpected frequency %v", freq)
	}
}

func TestDeduplicate_FrequencyBonus(t *testing.T) {
	// P in queries {0,2} -> 1; Q in all three -> 2; R in one -> 0.
	lists := [][]domain.Post{
		{{ID: "P", Title: "first"}, {ID: "Q"}},
		{{ID: "Q"}, {ID: "R"}},
		{{ID: "Q"}, {ID: "P", Title: "second"}},
	}
	got := Deduplicate(lists)

	if len(got) != 3 {
		t.Fatalf("expected 3 unique posts, got %v", ids(got))
	}
	want := map[string]int{"P": 1, "Q": 2, "R": 0}
	for _, p := range got {
		if p.FrequencyBonus == nil || *p.FrequencyBonus != want[p.ID] {
			t.Errorf("post %s: frequencyBonus=%v, want %d", p.ID, p.FrequencyBonus, want[p.ID])
		}
	}
	if got[0].ID != "P" || got[0].Title != "first" {
		t.Errorf("first occurrence must win, got %+v", got[0])
	}
}

func TestDeduplicate_UniqueIDsProperty(t *testing.T) {
	// k distinct lists containing the same post -> bonus k-1.
	for k := 1; k <= 5; k++ {
		lists := make([][]domain.Post, 6)
		for i := 0; i < k; i++ {
			lists[i] = []domain.Post{{ID: "shared"}, {ID: fmt.Sprintf("own-%d", i)}}
		}
		got := Deduplicate(lists)

		seen := map[string]bool{}
		for _, p := range got {
			if seen[p.ID] {
				t.Fatalf("k=%d: duplicate id %s", k, p.ID)
			}
			seen[p.ID] = true
			if p.ID == "shared" && *p.FrequencyBonus != k-1 {
				t.Errorf("k=%d: bonus %d", k, *p.FrequencyBonus)
			}
		}
	}
}

func TestHeuristicScore_Formula(t *testing.T) {
	p := domain.Post{
		Upvotes:     100,
		Comments:    10,
		UpvoteRatio: domain.FloatPtr(0.9),
		CreatedAt:   now.Add(-99 * time.Hour),
	}
	// (100*0.9 + 10*2) / log10(100) = 110 / 2
	if got := HeuristicScore(&p, now); math.Abs(got-55) > 1e-9 {
		t.Errorf("expected 55, got %v", got)
	}
}

func TestHeuristicScore_Defaults(t *testing.T) {
	p := domain.Post{Upvotes: 10, Comments: 1}
	// missing ratio 0.5, missing timestamp = now -> divisor 1
	if got := HeuristicScore(&p, now); got != 7 {
		t.Errorf("expected 7, got %v", got)
	}
}

func TestHeuristicScore_RecentPostNotBoosted(t *testing.T) {
	p := domain.Post{Upvotes: 10, UpvoteRatio: domain.FloatPtr(1), CreatedAt: now.Add(-time.Hour)}
	// log10(2) < 1 so the divisor is clamped to 1.
	if got := HeuristicScore(&p, now); got != 10 {
		t.Errorf("expected 10, got %v", got)
	}
}

func TestHeuristicScore_AlwaysFiniteNonNegative(t *testing.T) {
	cases := []domain.Post{
		{},
		{Upvotes: -50, UpvoteRatio: domain.FloatPtr(1)},
		{UpvoteRatio: domain.FloatPtr(math.NaN()), Upvotes: 5},
		{UpvoteRatio: domain.FloatPtr(math.Inf(1)), Upvotes: 5},
		{Upvotes: 5, CreatedAt: now.Add(72 * time.Hour)},
		{Upvotes: math.MaxInt32, Comments: math.MaxInt32, CreatedAt: time.Unix(0, 0)},
	}
	for i, p := range cases {
		got := HeuristicScore(&p, now)
		if math.IsNaN(got) || math.IsInf(got, 0) || got < 0 {
			t.Errorf("case %d: got %v", i, got)
		}
	}
}

func TestCapByHeuristic(t *testing.T) {
	posts := []domain.Post{
		{ID: "low", Upvotes: 1},
		{ID: "high", Upvotes: 100},
		{ID: "mid", Upvotes: 10},
	}
	got := CapByHeuristic(posts, 2, now)

	if len(got) != 2 || got[0].ID != "high" || got[1].ID != "mid" {
		t.Fatalf("unexpected cap result %v", ids(got))
	}
	if got[0].HeuristicScore == nil {
		t.Error("heuristic score should be attached")
	}
	if posts[0].HeuristicScore != nil {
		t.Error("input slice must not be mutated")
	}
}

func TestCapByHeuristic_UnderCapKeepsAll(t *testing.T) {
	posts := make([]domain.Post, 22)
	for i := range posts {
		posts[i] = domain.Post{ID: fmt.Sprint(i), Upvotes: i}
	}
	if got := CapByHeuristic(posts, 30, now); len(got) != 22 {
		t.Errorf("expected all 22 kept, got %d", len(got))
	}
}

func TestSortAndFilterByRelevance(t *testing.T) {
	posts := []domain.Post{
		{ID: "a", RelevanceScore: domain.FloatPtr(7), FrequencyBonus: domain.IntPtr(0)},
		{ID: "b", RelevanceScore: domain.FloatPtr(9)},
		{ID: "c", RelevanceScore: domain.FloatPtr(7), FrequencyBonus: domain.IntPtr(2)},
		{ID: "d", RelevanceScore: domain.FloatPtr(5)},
		{ID: "e"},
	}
	got := FilterByRelevance(posts, 6)
	SortByRelevance(got)

	want := []string{"b", "c", "a"}
	if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, ids(got))
	}
}

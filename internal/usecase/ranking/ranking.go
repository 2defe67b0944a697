// Package ranking merges per-query result lists and computes the cheap
// engagement score used to cap candidates before model scoring.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/kailas-cloud/threadscout/internal/domain"
)

// defaultUpvoteRatio stands in for a missing upvote ratio.
const defaultUpvoteRatio = 0.5

// BuildFrequency counts, per post id, how many of the lists contain it.
// Repeats inside one list count once.
func BuildFrequency(lists [][]domain.Post) map[string]int {
	freq := make(map[string]int)
	for _, list := range lists {
		seen := make(map[string]struct{}, len(list))
		for i := range list {
			id := list[i].ID
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			freq[id]++
		}
	}
	return freq
}

// Deduplicate flattens lists keeping the first occurrence of each id and
// attaches FrequencyBonus = appearances - 1.
func Deduplicate(lists [][]domain.Post) []domain.Post {
	freq := BuildFrequency(lists)

	total := 0
	for _, l := range lists {
		total += len(l)
	}
	out := make([]domain.Post, 0, total)
	seen := make(map[string]struct{}, len(freq))

	for _, list := range lists {
		for _, p := range list {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			bonus := freq[p.ID] - 1
			if bonus < 0 {
				bonus = 0
			}
			p.FrequencyBonus = domain.IntPtr(bonus)
			out = append(out, p)
		}
	}
	return out
}

// HeuristicScore is (upvotes*ratio + comments*2) / max(1, log10(hours+1)).
// The result is always finite and non-negative.
func HeuristicScore(p *domain.Post, now time.Time) float64 {
	ratio := defaultUpvoteRatio
	if p.UpvoteRatio != nil {
		ratio = *p.UpvoteRatio
	}

	hours := 0.0
	if !p.CreatedAt.IsZero() {
		hours = now.Sub(p.CreatedAt).Hours()
	}
	if hours < 0 || math.IsNaN(hours) {
		hours = 0
	}

	score := (float64(p.Upvotes)*ratio + float64(p.Comments)*2) / math.Max(1, math.Log10(hours+1))
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return 0
	}
	return score
}

// CapByHeuristic scores every post, then keeps the n best in descending
// score order. n <= 0 keeps all.
func CapByHeuristic(posts []domain.Post, n int, now time.Time) []domain.Post {
	out := make([]domain.Post, len(posts))
	copy(out, posts)
	for i := range out {
		out[i].HeuristicScore = domain.FloatPtr(HeuristicScore(&out[i], now))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Heuristic() > out[j].Heuristic() })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// SortByRelevance orders posts by relevance score, then frequency bonus,
// then heuristic score, all descending.
func SortByRelevance(posts []domain.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := &posts[i], &posts[j]
		if a.Relevance() != b.Relevance() {
			return a.Relevance() > b.Relevance()
		}
		if a.Frequency() != b.Frequency() {
			return a.Frequency() > b.Frequency()
		}
		return a.Heuristic() > b.Heuristic()
	})
}

// FilterByRelevance keeps posts scored at or above min.
func FilterByRelevance(posts []domain.Post, min float64) []domain.Post {
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if p.Relevance() >= min {
			out = append(out, p)
		}
	}
	return out
}

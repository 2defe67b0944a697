package domain

import (
	"fmt"
	"time"
)

// SnippetLength caps the body text carried on a Post.
const SnippetLength = 500

// Post is a content-platform post flowing through the discovery pipeline.
// Enrichment fields are nil until the stage that owns them runs; stages only add.
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subreddit   string    `json:"subreddit"`
	Author      string    `json:"author"`
	URL         string    `json:"url"`
	Permalink   string    `json:"permalink"`
	Snippet     string    `json:"snippet"`
	Upvotes     int       `json:"upvotes"`
	Comments    int       `json:"comments"`
	UpvoteRatio *float64  `json:"upvote_ratio,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Thumbnail   string    `json:"thumbnail,omitempty"`

	FrequencyBonus *int     `json:"frequency_bonus,omitempty"`
	SemanticScore  *float64 `json:"semantic_score,omitempty"`
	HeuristicScore *float64 `json:"heuristic_score,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// EmbeddingText is the text representation used for semantic comparison.
func (p *Post) EmbeddingText(bodyLimit int) string {
	return p.Title + " " + Truncate(p.Snippet, bodyLimit)
}

// Relevance returns the relevance score or 0 when the post was never scored.
func (p *Post) Relevance() float64 {
	if p.RelevanceScore == nil {
		return 0
	}
	return *p.RelevanceScore
}

// Frequency returns the frequency bonus or 0 when unset.
func (p *Post) Frequency() int {
	if p.FrequencyBonus == nil {
		return 0
	}
	return *p.FrequencyBonus
}

// Heuristic returns the heuristic score or 0 when unset.
func (p *Post) Heuristic() float64 {
	if p.HeuristicScore == nil {
		return 0
	}
	return *p.HeuristicScore
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// SortOrder is the listing order requested from the content-search service.
type SortOrder string

// Supported sort orders.
const (
	SortRelevance SortOrder = "relevance"
	SortHot       SortOrder = "hot"
	SortTop       SortOrder = "top"
	SortNew       SortOrder = "new"
	SortComments  SortOrder = "comments"
)

// ParseSortOrder validates s. Empty means relevance.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(s) {
	case "":
		return SortRelevance, nil
	case SortRelevance, SortHot, SortTop, SortNew, SortComments:
		return SortOrder(s), nil
	default:
		return "", fmt.Errorf("%w: unknown sort %q", ErrInvalidQuery, s)
	}
}

// TimeRange restricts listings to a creation window.
type TimeRange string

// Supported time ranges.
const (
	TimeHour  TimeRange = "hour"
	TimeDay   TimeRange = "day"
	TimeWeek  TimeRange = "week"
	TimeMonth TimeRange = "month"
	TimeYear  TimeRange = "year"
	TimeAll   TimeRange = "all"
)

// ParseTimeRange validates s. Empty means the past year.
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case "":
		return TimeYear, nil
	case TimeHour, TimeDay, TimeWeek, TimeMonth, TimeYear, TimeAll:
		return TimeRange(s), nil
	default:
		return "", fmt.Errorf("%w: unknown time range %q", ErrInvalidQuery, s)
	}
}

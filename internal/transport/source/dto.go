package source

import (
	"math"
	"strings"
	"time"

	"github.com/kailas-cloud/threadscout/internal/domain"
)

type listingDTO struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string  `json:"kind"`
			Data postDTO `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type postDTO struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Subreddit   string   `json:"subreddit"`
	Author      string   `json:"author"`
	URL         string   `json:"url"`
	Permalink   string   `json:"permalink"`
	Selftext    string   `json:"selftext"`
	Score       int      `json:"score"`
	NumComments int      `json:"num_comments"`
	UpvoteRatio *float64 `json:"upvote_ratio"`
	CreatedUTC  float64  `json:"created_utc"`
	Thumbnail   string   `json:"thumbnail"`
}

func (p postDTO) toDomain(baseURL string) domain.Post {
	post := domain.Post{
		ID:          p.ID,
		Title:       p.Title,
		Subreddit:   p.Subreddit,
		Author:      p.Author,
		URL:         p.URL,
		Snippet:     domain.Truncate(strings.TrimSpace(p.Selftext), domain.SnippetLength),
		Upvotes:     p.Score,
		Comments:    p.NumComments,
		UpvoteRatio: p.UpvoteRatio,
		Thumbnail:   thumbnail(p.Thumbnail),
	}
	if p.Permalink != "" {
		post.Permalink = baseURL + p.Permalink
	}
	if p.CreatedUTC > 0 && !math.IsInf(p.CreatedUTC, 0) {
		sec, frac := math.Modf(p.CreatedUTC)
		post.CreatedAt = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return post
}

// thumbnail drops the placeholder values the listing uses for "no image".
func thumbnail(v string) string {
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return v
	}
	return ""
}

type commentListingDTO struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data struct {
				Body  string `json:"body"`
				Score int    `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

const searchBody = `{
  "kind": "Listing",
  "data": {
    "after": "t3_next",
    "children": [
      {"kind": "t3", "data": {
        "id": "abc", "title": "Best budget keyboard?", "subreddit": "MechanicalKeyboards",
        "author": "u1", "url": "https://example.com/a", "permalink": "/r/MechanicalKeyboards/comments/abc/best/",
        "selftext": "  Looking for something under $50  ", "score": 120, "num_comments": 45,
        "upvote_ratio": 0.93, "created_utc": 1767225600.0, "thumbnail": "self"
      }},
      {"kind": "t3", "data": {
        "id": "def", "title": "Second", "subreddit": "keyboards", "author": "u2",
        "url": "https://example.com/b", "permalink": "/r/keyboards/comments/def/second/",
        "selftext": "", "score": 3, "num_comments": 0,
        "created_utc": 1767225600.0, "thumbnail": "https://img.example.com/t.jpg"
      }},
      {"kind": "t5", "data": {"id": "sub"}}
    ]
  }
}`

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, UserAgent: "threadscout-test/1.0", Logger: zap.NewNop()})
}

func TestSearchPage_ParsesListing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "budget keyboard" || q.Get("sort") != "top" || q.Get("t") != "year" {
			t.Errorf("unexpected query %v", q)
		}
		if q.Get("limit") != "100" || q.Get("after") != "t3_prev" {
			t.Errorf("unexpected paging %v", q)
		}
		if r.Header.Get("User-Agent") != "threadscout-test/1.0" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, searchBody)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	page, err := c.SearchPage(context.Background(), PageRequest{
		Query: "budget keyboard", Sort: domain.SortTop, TimeRange: domain.TimeYear, Limit: 100, After: "t3_prev",
	})
	if err != nil {
		t.Fatalf("SearchPage: %v", err)
	}

	if page.After != "t3_next" {
		t.Errorf("expected cursor t3_next, got %q", page.After)
	}
	if len(page.Posts) != 2 {
		t.Fatalf("expected 2 posts (non-link kinds skipped), got %d", len(page.Posts))
	}

	p := page.Posts[0]
	if p.ID != "abc" || p.Upvotes != 120 || p.Comments != 45 {
		t.Errorf("unexpected post %+v", p)
	}
	if p.Snippet != "Looking for something under $50" {
		t.Errorf("snippet not trimmed: %q", p.Snippet)
	}
	if p.UpvoteRatio == nil || *p.UpvoteRatio != 0.93 {
		t.Errorf("expected ratio 0.93, got %v", p.UpvoteRatio)
	}
	if p.Permalink != server.URL+"/r/MechanicalKeyboards/comments/abc/best/" {
		t.Errorf("unexpected permalink %q", p.Permalink)
	}
	if !p.CreatedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected created_at %s", p.CreatedAt)
	}
	if p.Thumbnail != "" {
		t.Errorf("placeholder thumbnail should be dropped, got %q", p.Thumbnail)
	}

	if page.Posts[1].UpvoteRatio != nil {
		t.Error("missing ratio should stay nil")
	}
	if page.Posts[1].Thumbnail == "" {
		t.Error("real thumbnail should be kept")
	}
}

func TestSearchPage_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   string
		sentinel error
		hint     time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, "7", domain.ErrUpstreamRateLimited, 7 * time.Second},
		{"unavailable", http.StatusServiceUnavailable, "", domain.ErrUpstreamUnavailable, 0},
		{"not found", http.StatusNotFound, "", domain.ErrNotFound, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).SearchPage(context.Background(), PageRequest{Query: "x"})
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
			if got := domain.RetryAfter(err); got != tc.hint {
				t.Errorf("expected hint %s, got %s", tc.hint, got)
			}
		})
	}
}

func TestSearchPage_ClientErrorNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "blocked")
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).SearchPage(context.Background(), PageRequest{Query: "x"})
	if err == nil || domain.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestSearchPage_ConnectionRefusedIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestClient(url).SearchPage(context.Background(), PageRequest{Query: "x"})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestSearchPage_DeadlinePropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestClient(server.URL).SearchPage(ctx, PageRequest{Query: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

const threadBody = `[
  {"kind": "Listing", "data": {"children": [{"kind": "t3", "data": {"id": "abc"}}]}},
  {"kind": "Listing", "data": {"children": [
    {"kind": "t1", "data": {"body": "Get the Keychron.", "score": 50}},
    {"kind": "t1", "data": {"body": "[deleted]", "score": 10}},
    {"kind": "t1", "data": {"body": "Royal Kludge is fine too.", "score": 8}},
    {"kind": "t1", "data": {"body": "Third", "score": 2}},
    {"kind": "more", "data": {"children": ["x", "y"]}}
  ]}}
]`

func TestComments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/keyboards/comments/abc/best.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("sort") != "top" {
			t.Errorf("expected top sort")
		}
		fmt.Fprint(w, threadBody)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, err := c.Comments(context.Background(), server.URL+"/r/keyboards/comments/abc/best/", 2)
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(got) != 2 || got[0] != "Get the Keychron." || got[1] != "Royal Kludge is fine too." {
		t.Errorf("unexpected comments %q", got)
	}
}

func TestComments_RelativePermalink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/a/comments/b/c.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).Comments(context.Background(), "/r/a/comments/b/c/", 5)
	if err != nil || got != nil {
		t.Fatalf("expected empty result, got %v, %v", got, err)
	}
}

func TestComments_InvalidPermalink(t *testing.T) {
	c := newTestClient("http://unused")
	if _, err := c.Comments(context.Background(), "  ", 5); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := parseRetryAfter("12", now); got != 12*time.Second {
		t.Errorf("seconds: got %s", got)
	}
	date := now.Add(30 * time.Second).Format(http.TimeFormat)
	if got := parseRetryAfter(date, now); got != 30*time.Second {
		t.Errorf("http date: got %s", got)
	}
	if got := parseRetryAfter("soon", now); got != 0 {
		t.Errorf("garbage: got %s", got)
	}
}

// Package source is an HTTP client for the content-search service's public
// JSON listing endpoints.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/metrics"
)

const maxErrorBody = 512

// Config holds client settings.
type Config struct {
	BaseURL   string
	UserAgent string
	Logger    *zap.Logger
}

// Client talks to the content-search service. Each call is a single HTTP
// request; retries and deadlines are the caller's concern.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	now       func() time.Time
	logger    *zap.Logger
}

// NewClient creates a content-search client.
func NewClient(cfg Config) *Client {
	return &Client{
		http:      &http.Client{},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		now:       time.Now,
		logger:    cfg.Logger,
	}
}

// PageRequest selects one page of search results.
type PageRequest struct {
	Query     string
	Sort      domain.SortOrder
	TimeRange domain.TimeRange
	Limit     int
	After     string // cursor from the previous page; empty for the first
}

// Page is one page of results plus the cursor for the next one.
type Page struct {
	Posts []domain.Post
	After string
}

// SearchPage fetches one page of keyword search results.
func (c *Client) SearchPage(ctx context.Context, req PageRequest) (Page, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("sort", string(req.Sort))
	q.Set("t", string(req.TimeRange))
	q.Set("type", "link")
	q.Set("raw_json", "1")
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.After != "" {
		q.Set("after", req.After)
	}

	var listing listingDTO
	if err := c.getJSON(ctx, "/search.json?"+q.Encode(), &listing); err != nil {
		return Page{}, fmt.Errorf("search %q: %w", req.Query, err)
	}

	posts := make([]domain.Post, 0, len(listing.Data.Children))
	for _, ch := range listing.Data.Children {
		if ch.Kind != "t3" || ch.Data.ID == "" {
			continue
		}
		posts = append(posts, ch.Data.toDomain(c.baseURL))
	}
	return Page{Posts: posts, After: listing.Data.After}, nil
}

// Comments fetches the top-level comment bodies of one post, best first.
func (c *Client) Comments(ctx context.Context, permalink string, limit int) ([]string, error) {
	path, err := c.permalinkPath(permalink)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("sort", "top")
	q.Set("depth", "1")
	q.Set("raw_json", "1")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	// The thread endpoint returns [post listing, comment listing].
	var listings []commentListingDTO
	if err := c.getJSON(ctx, strings.TrimRight(path, "/")+".json?"+q.Encode(), &listings); err != nil {
		return nil, fmt.Errorf("comments %s: %w", path, err)
	}
	if len(listings) < 2 {
		return nil, nil
	}

	var bodies []string
	for _, ch := range listings[1].Data.Children {
		if ch.Kind != "t1" {
			continue
		}
		body := strings.TrimSpace(ch.Data.Body)
		if body == "" || body == "[deleted]" || body == "[removed]" {
			continue
		}
		bodies = append(bodies, body)
		if limit > 0 && len(bodies) == limit {
			break
		}
	}
	return bodies, nil
}

// permalinkPath accepts a site-relative permalink or an absolute URL on the
// configured host and returns the path.
func (c *Client) permalinkPath(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: permalink is required", domain.ErrInvalidQuery)
	}
	if strings.HasPrefix(ref, "/") {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Path == "" || !strings.HasPrefix(u.Path, "/") {
		return "", fmt.Errorf("%w: malformed permalink %q", domain.ErrInvalidQuery, ref)
	}
	return u.Path, nil
}

func (c *Client) getJSON(ctx context.Context, pathAndQuery string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("source", "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request: %w", err)
		}
		return fmt.Errorf("request: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	metrics.UpstreamRequestsTotal.WithLabelValues("source", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.statusError(resp, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %w", resp.StatusCode,
			domain.NewUpstreamRateLimited(parseRetryAfter(resp.Header.Get("Retry-After"), c.now())))
	case resp.StatusCode >= 500:
		return fmt.Errorf("status %d: %s: %w", resp.StatusCode, msg, domain.ErrUpstreamUnavailable)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrNotFound)
	default:
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
}

// parseRetryAfter reads delta-seconds or an HTTP date. Unparseable values yield 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

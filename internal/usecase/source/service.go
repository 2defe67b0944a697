// Package source runs paginated keyword searches against the content-search
// service and fetches comment details, both under the retry policy.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/logger"
	"github.com/kailas-cloud/threadscout/internal/retry"
	client "github.com/kailas-cloud/threadscout/internal/transport/source"
)

// Options tunes pagination and truncation.
type Options struct {
	Pages       int // max pages fetched per query
	PageSize    int // results requested per page
	Limit       int // results kept per query after sorting
	DetailsTopK int // comments joined by GetDetails
}

// Service is the Source Searcher.
type Service struct {
	client searcher
	policy retry.Policy
	opts   Options
}

// New creates a source service.
func New(c searcher, policy retry.Policy, opts Options) *Service {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	return &Service{client: c, policy: policy, opts: opts}
}

// Search fetches up to Pages pages for query, drops in-query duplicates,
// sorts by upvotes descending and truncates to Limit. Errors after retries
// are returned; pages already fetched are discarded.
func (s *Service) Search(
	ctx context.Context, query string, sortBy domain.SortOrder, tr domain.TimeRange,
) ([]domain.Post, error) {
	log := logger.FromContext(ctx)

	var (
		posts []domain.Post
		seen  = make(map[string]struct{})
		after string
	)
	for page := 0; page < s.opts.Pages; page++ {
		req := client.PageRequest{
			Query:     query,
			Sort:      sortBy,
			TimeRange: tr,
			Limit:     s.opts.PageSize,
			After:     after,
		}
		res, err := retry.Do(ctx, s.policy, log, func(ctx context.Context) (client.Page, error) {
			return s.client.SearchPage(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("search page %d: %w", page+1, err)
		}

		for _, p := range res.Posts {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			posts = append(posts, p)
		}

		if res.After == "" || len(res.Posts) == 0 {
			break
		}
		after = res.After
	}

	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Upvotes > posts[j].Upvotes })
	if s.opts.Limit > 0 && len(posts) > s.opts.Limit {
		posts = posts[:s.opts.Limit]
	}

	log.Debug("Source search done",
		zap.String("query", query),
		zap.Int("posts", len(posts)),
	)
	return posts, nil
}

// GetDetails returns the top comment bodies of one post joined by blank
// lines. Any failure yields "".
func (s *Service) GetDetails(ctx context.Context, permalink string) string {
	bodies, err := retry.Do(ctx, s.policy, logger.FromContext(ctx), func(ctx context.Context) ([]string, error) {
		return s.client.Comments(ctx, permalink, s.opts.DetailsTopK)
	})
	if err != nil {
		logger.FromContext(ctx).Warn("Post details unavailable",
			zap.String("permalink", permalink),
			zap.Error(err),
		)
		return ""
	}
	return strings.Join(bodies, "\n\n")
}

// Package discovery runs the query-to-ranked-posts pipeline.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/logger"
	"github.com/kailas-cloud/threadscout/internal/metrics"
	"github.com/kailas-cloud/threadscout/internal/repository/cache"
	"github.com/kailas-cloud/threadscout/internal/usecase/ranking"
)

// Options tune the pipeline.
type Options struct {
	HeuristicCap int
	MinRelevance float64
	KeyMaxLen    int
}

// Deps are the pipeline stages.
type Deps struct {
	Expander expander
	Searcher searcher
	Filter   semanticFilter
	Scorer   scorer
	Cache    responseCache
	Usage    usageObserver // optional
}

// Service orchestrates discovery.
type Service struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a discovery service.
func New(deps Deps, opts Options) *Service {
	if opts.HeuristicCap < 1 {
		opts.HeuristicCap = 30
	}
	return &Service{deps: deps, opts: opts, now: time.Now}
}

// CacheKey is the response cache key for a request.
func (s *Service) CacheKey(req domain.DiscoveryRequest) string {
	return cache.Key(s.opts.KeyMaxLen, "search", req.Query, string(req.Sort), string(req.TimeRange))
}

// Discover expands the query, searches every phrasing concurrently, then
// dedups, filters semantically, caps heuristically, scores and thresholds.
// Non-empty results are cached; an identical request within the TTL is
// answered from cache with Cached set.
func (s *Service) Discover(ctx context.Context, req domain.DiscoveryRequest) (*domain.DiscoveryResponse, error) {
	start := time.Now()

	query, err := domain.NormalizeQuery(req.Query)
	if err != nil {
		return nil, err
	}
	req.Query = query

	ctx = domain.ContextWithModelKey(ctx, req.APIKey)
	ctx = logger.With(ctx, zap.String("query", query))
	log := logger.FromContext(ctx)

	key := s.CacheKey(req)
	var cached domain.DiscoveryResponse
	if s.deps.Cache.GetJSON(ctx, key, &cached) {
		cached.Cached = true
		observe(true, start)
		log.Debug("Discovery served from cache", zap.Int("posts", len(cached.Posts)))
		return &cached, nil
	}

	resp, err := s.run(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Posts) > 0 {
		if err := s.deps.Cache.SetJSON(ctx, key, resp); err != nil {
			log.Warn("Failed to cache discovery response", zap.Error(err))
		}
	}
	observe(false, start)
	return resp, nil
}

func (s *Service) run(ctx context.Context, req domain.DiscoveryRequest) (*domain.DiscoveryResponse, error) {
	log := logger.FromContext(ctx)

	exp := s.deps.Expander.Expand(ctx, req.Query)
	snap := exp.RateLimit

	lists := s.searchAll(ctx, exp.Queries, req)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search: %w: %w", domain.ErrUpstreamTimeout, err)
	}

	resp := &domain.DiscoveryResponse{
		Posts:           []domain.Post{},
		ExpandedQueries: exp.Queries,
		Intent:          exp.Intent,
	}

	unique := ranking.Deduplicate(lists)
	resp.Stats.Input = len(unique)
	stage("dedup", len(unique))

	passed, err := s.deps.Filter.Filter(ctx, unique, req.Query, exp.Intent)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("semantic: %w: %w", domain.ErrUpstreamTimeout, ctxErr)
	}
	if err != nil {
		// Failing closed: nothing unverified reaches the scoring stage.
		log.Warn("Semantic filter produced no candidates", zap.Error(err))
		passed = nil
	}
	resp.Stats.SemanticPass = len(passed)
	stage("semantic", len(passed))

	capped := ranking.CapByHeuristic(passed, s.opts.HeuristicCap, s.now())
	resp.Stats.Analyzed = len(capped)
	stage("analyzed", len(capped))

	if len(capped) > 0 {
		scored, scoreSnap := s.deps.Scorer.Score(ctx, capped, req.Query)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("score: %w: %w", domain.ErrUpstreamTimeout, err)
		}
		snap = snap.Newer(scoreSnap)

		final := ranking.FilterByRelevance(scored, s.opts.MinRelevance)
		ranking.SortByRelevance(final)
		resp.Posts = final
	}
	resp.Stats.Output = len(resp.Posts)
	stage("output", len(resp.Posts))

	if snap.Valid() {
		resp.RateLimit = &snap
		if s.deps.Usage != nil {
			s.deps.Usage.Observe(snap)
		}
	}

	log.Info("Discovery completed",
		zap.Strings("expanded_queries", exp.Queries),
		zap.String("intent", string(exp.Intent)),
		zap.Int("input", resp.Stats.Input),
		zap.Int("semantic_pass", resp.Stats.SemanticPass),
		zap.Int("analyzed", resp.Stats.Analyzed),
		zap.Int("output", resp.Stats.Output),
	)
	return resp, nil
}

// searchAll runs one search per phrasing. A failed search contributes an
// empty list and never cancels its siblings.
func (s *Service) searchAll(ctx context.Context, queries []string, req domain.DiscoveryRequest) [][]domain.Post {
	log := logger.FromContext(ctx)
	lists := make([][]domain.Post, len(queries))

	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			posts, err := s.deps.Searcher.Search(ctx, q, req.Sort, req.TimeRange)
			if err != nil {
				log.Warn("Search failed, continuing without it",
					zap.String("expanded_query", q), zap.Error(err))
				return nil
			}
			lists[i] = posts
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors

	return lists
}

func observe(cached bool, start time.Time) {
	metrics.DiscoveryDuration.WithLabelValues(strconv.FormatBool(cached)).Observe(time.Since(start).Seconds())
}

func stage(name string, n int) {
	metrics.DiscoveryStagePosts.WithLabelValues(name).Observe(float64(n))
}

// Package app is the composition root shared by the HTTP, CLI and MCP binaries.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/config"
	dbRedis "github.com/kailas-cloud/threadscout/internal/db/redis"
	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/metrics"
	budgetrepo "github.com/kailas-cloud/threadscout/internal/repository/budget"
	"github.com/kailas-cloud/threadscout/internal/repository/cache"
	"github.com/kailas-cloud/threadscout/internal/repository/embcache"
	"github.com/kailas-cloud/threadscout/internal/retry"
	openaiTransport "github.com/kailas-cloud/threadscout/internal/transport/openai"
	sourceclient "github.com/kailas-cloud/threadscout/internal/transport/source"
	budgetuc "github.com/kailas-cloud/threadscout/internal/usecase/budget"
	discoveryuc "github.com/kailas-cloud/threadscout/internal/usecase/discovery"
	embeddinguc "github.com/kailas-cloud/threadscout/internal/usecase/embedding"
	"github.com/kailas-cloud/threadscout/internal/usecase/expansion"
	healthuc "github.com/kailas-cloud/threadscout/internal/usecase/health"
	"github.com/kailas-cloud/threadscout/internal/usecase/limiter"
	"github.com/kailas-cloud/threadscout/internal/usecase/llm"
	"github.com/kailas-cloud/threadscout/internal/usecase/ratelimit"
	"github.com/kailas-cloud/threadscout/internal/usecase/relevance"
	"github.com/kailas-cloud/threadscout/internal/usecase/semantic"
	sourceuc "github.com/kailas-cloud/threadscout/internal/usecase/source"
	usageuc "github.com/kailas-cloud/threadscout/internal/usecase/usage"
)

// Budget counter TTLs: a day key outlives its day, a month key its month.
const (
	budgetDailyTTL   = 48 * time.Hour
	budgetMonthlyTTL = 62 * 24 * time.Hour
)

// maxRetryDelay caps honored Retry-After hints.
const maxRetryDelay = time.Minute

// cacheFlushTimeout bounds how long Close waits for background cache writes.
const cacheFlushTimeout = 5 * time.Second

// App holds the wired services and the resources they share.
type App struct {
	Discovery *discoveryuc.Service
	Source    *sourceuc.Service
	Usage     *usageuc.Service
	Health    *healthuc.Service
	Inbound   *ratelimit.Limiter
	Cache     *cache.Cache
	Limiter   *limiter.Limiter

	cfg    config.Config
	logger *zap.Logger
	store  *dbRedis.Store
	pool   *ants.Pool

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New builds every service from cfg. Without database addresses the cache
// runs local-only and budget counters are kept in memory.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	var store *dbRedis.Store
	if len(cfg.Database.Addrs) > 0 {
		var err error
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", cfg.Database.Driver, err)
		}
		timeout := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("database not ready: %w", err)
		}
		logger.Info("Connected to database",
			zap.String("driver", cfg.Database.Driver),
			zap.Strings("addrs", cfg.Database.Addrs),
		)
	} else {
		logger.Info("No database configured, cache is local-only")
	}
	return newApp(ctx, cfg, logger, store)
}

// newApp wires services around an already connected store, nil for local-only.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, store *dbRedis.Store) (*App, error) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	a := &App{cfg: cfg, logger: logger, store: store}

	pool, err := ants.NewPool(cfg.Pipeline.WorkerPoolSize)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	a.pool = pool

	budget := a.buildBudget(ctx)

	// Pass nil interfaces (not typed nil pointers) when budget is not configured.
	var (
		embBudget  embeddinguc.BudgetChecker
		chatBudget llm.BudgetChecker
		reader     usageuc.BudgetReader
	)
	if budget != nil {
		embBudget, chatBudget, reader = budget, budget, budget
	}

	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	a.Limiter = limiter.New("embedding", cfg.Embedding.MaxConcurrent)
	filter := semantic.New(a.buildEmbedder(baseEmbedder, embBudget), cfg.Pipeline.SemanticFailOpen)

	baseChat := openaiTransport.NewChat(&openaiTransport.ChatConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Logger:  logger,
	})
	chat := llm.NewInstrumentedChat(baseChat, retry.Policy{
		Name:           "llm",
		Attempts:       uint(cfg.LLM.MaxAttempts),
		Timeout:        seconds(cfg.LLM.TimeoutSec),
		BaseDelay:      millis(cfg.LLM.BaseDelayMs),
		MaxDelay:       maxRetryDelay,
		RateLimitDelay: millis(cfg.LLM.RateLimitDelayMs),
	}, chatBudget)

	client := sourceclient.NewClient(sourceclient.Config{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		Logger:    logger,
	})
	a.Source = sourceuc.New(client, retry.Policy{
		Name:           "source",
		Attempts:       uint(cfg.Source.MaxAttempts),
		Timeout:        seconds(cfg.Source.TimeoutSec),
		BaseDelay:      millis(cfg.Source.BaseDelayMs),
		MaxDelay:       maxRetryDelay,
		RateLimitDelay: millis(cfg.Source.RateLimitDelayMs),
	}, sourceuc.Options{
		Pages:       cfg.Source.Pages,
		PageSize:    cfg.Source.PageSize,
		Limit:       cfg.Source.PerQueryLimit,
		DetailsTopK: cfg.Source.DetailsTopK,
	})

	if a.store != nil {
		a.Cache = cache.New(a.store, cfg.CacheTTL(), logger)
	} else {
		a.Cache = cache.New(nil, cfg.CacheTTL(), logger)
	}

	a.Usage = usageuc.New(reader)
	a.Inbound = ratelimit.New(cfg.MinRequestInterval(), logger)

	if a.store != nil {
		a.Health = healthuc.New(a.store, baseEmbedder, baseChat)
	} else {
		a.Health = healthuc.New(nil, baseEmbedder, baseChat)
	}

	a.Discovery = discoveryuc.New(discoveryuc.Deps{
		Expander: expansion.New(chat, cfg.LLM.Temperature),
		Searcher: a.Source,
		Filter:   filter,
		Scorer: relevance.New(chat, pool, relevance.Options{
			BatchSize:     cfg.Pipeline.BatchSize,
			FallbackScore: cfg.FallbackScore(),
			Temperature:   cfg.LLM.Temperature,
		}),
		Cache: a.Cache,
		Usage: a.Usage,
	}, discoveryuc.Options{
		HeuristicCap: cfg.Pipeline.HeuristicCap,
		MinRelevance: cfg.MinRelevance(),
		KeyMaxLen:    cfg.Cache.KeyMaxLen,
	})

	logger.Info("Pipeline ready",
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Int("embedding_max_concurrent", cfg.Embedding.MaxConcurrent),
		zap.Int("worker_pool_size", cfg.Pipeline.WorkerPoolSize),
		zap.Bool("semantic_fail_open", cfg.Pipeline.SemanticFailOpen),
	)
	return a, nil
}

// buildBudget returns nil when no limit is configured.
func (a *App) buildBudget(ctx context.Context) *budgetuc.Tracker {
	bc := a.cfg.Budget
	if bc.DailyTokenLimit <= 0 && bc.MonthlyTokenLimit <= 0 {
		return nil
	}
	action := budgetuc.ActionWarn
	if bc.Action == string(budgetuc.ActionReject) {
		action = budgetuc.ActionReject
	}
	t := budgetuc.NewTracker("model", bc.DailyTokenLimit, bc.MonthlyTokenLimit, action, a.logger)
	if a.store != nil {
		t.WithStore(ctx, budgetrepo.New(a.store, budgetDailyTTL, budgetMonthlyTTL))
	}
	return t
}

// buildEmbedder assembles the decorator chain:
// OpenAI -> Limited (retry + slots) -> Instrumented (budget + chunking) -> Cached.
func (a *App) buildEmbedder(base *openaiTransport.Embedder, budget embeddinguc.BudgetChecker) domain.BatchEmbedder {
	ec := a.cfg.Embedding
	limited := embeddinguc.NewLimitedEmbedder(base, a.Limiter, retry.Policy{
		Name:           "embedding",
		Attempts:       uint(ec.MaxAttempts),
		Timeout:        seconds(ec.TimeoutSec),
		BaseDelay:      millis(ec.BaseDelayMs),
		MaxDelay:       maxRetryDelay,
		RateLimitDelay: millis(ec.RateLimitDelayMs),
	}, a.logger)
	instrumented := embeddinguc.NewInstrumentedEmbedder(limited, ec.Model, budget, a.logger)
	if a.store == nil {
		return instrumented
	}
	ttl := time.Duration(ec.CacheTTLHours) * time.Hour
	return embcache.New(instrumented, a.store, ec.Model, ttl, metrics.EmbeddingCacheTotal, a.logger)
}

// Start launches the background sweepers. Close stops them.
func (a *App) Start(ctx context.Context) {
	ctx, a.stop = context.WithCancel(ctx)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Cache.RunSweeper(ctx, a.cfg.SweepInterval())
	}()
	go func() {
		defer a.wg.Done()
		a.Inbound.RunSweeper(ctx, a.cfg.SweepInterval())
	}()
}

// Close stops background work, lets pending remote cache writes land, then
// releases the pool and the store.
func (a *App) Close() {
	if a.stop != nil {
		a.stop()
	}
	a.wg.Wait()
	if a.pool != nil {
		a.pool.Release()
	}
	if a.store == nil {
		return
	}
	if a.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cacheFlushTimeout)
		if err := a.Cache.Flush(ctx); err != nil {
			a.logger.Warn("Abandoned pending cache writes", zap.Error(err))
		}
		cancel()
	}
	a.store.Close()
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

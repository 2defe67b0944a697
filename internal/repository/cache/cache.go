// Package cache is a two-tier response cache: a durable remote store
// backed by an in-process map. Reads try remote first; writes land locally
// before returning and reach the remote tier in the background.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/db"
	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/metrics"
)

var remoteKeyPrefix = domain.KeyPrefix + "cache:"

// remote is the consumer interface for the durable tier (ISP).
type remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	remote        remote
	ttl           time.Duration
	remoteTimeout time.Duration
	now           func() time.Time
	logger        *zap.Logger

	mu      sync.Mutex
	entries map[string]entry

	pending sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithRemoteTimeout bounds each remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(c *Cache) { c.remoteTimeout = d }
}

// New creates a cache. A nil remote runs the cache in local-only mode.
func New(r remote, ttl time.Duration, logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		remote:        r,
		ttl:           ttl,
		remoteTimeout: 2 * time.Second,
		now:           time.Now,
		logger:        logger,
		entries:       make(map[string]entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value for key. Remote errors fall through to the local tier.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.getRemote(ctx, key); ok {
		return v, true
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		metrics.CacheTotal.WithLabelValues("local", "miss").Inc()
		return nil, false
	}
	metrics.CacheTotal.WithLabelValues("local", "hit").Inc()
	return e.value, true
}

func (c *Cache) getRemote(ctx context.Context, key string) ([]byte, bool) {
	if c.remote == nil {
		return nil, false
	}

	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	v, err := c.remote.Get(rctx, remoteKeyPrefix+key)
	switch {
	case err == nil:
		metrics.CacheTotal.WithLabelValues("remote", "hit").Inc()
		return v, true
	case errors.Is(err, db.ErrKeyNotFound):
		metrics.CacheTotal.WithLabelValues("remote", "miss").Inc()
	default:
		metrics.CacheTotal.WithLabelValues("remote", "error").Inc()
		c.logger.Warn("Remote cache read failed", zap.String("key", key), zap.Error(err))
	}
	return nil, false
}

// Set stores value locally, then dispatches the remote write without waiting for it.
func (c *Cache) Set(_ context.Context, key string, value []byte) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.CacheLocalEntries.Set(float64(n))

	if c.remote == nil {
		return
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		// Detached from the request: the caller may return before the write lands.
		ctx, cancel := context.WithTimeout(context.Background(), c.remoteTimeout)
		defer cancel()

		if err := c.remote.SetWithTTL(ctx, remoteKeyPrefix+key, value, c.ttl); err != nil {
			metrics.CacheRemoteWriteErrorsTotal.Inc()
			c.logger.Warn("Remote cache write failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// Flush waits for in-flight remote writes or ctx expiry.
func (c *Cache) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush cache: %w", ctx.Err())
	}
}

// Sweep evicts expired local entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.CacheLocalEntries.Set(float64(n))
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Swept expired cache entries", zap.Int("removed", n))
			}
		}
	}
}

// Len returns the number of local entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetJSON decodes a cached value into dst. Undecodable entries count as misses.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("Failed to decode cached value", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// SetJSON encodes v and stores it.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	c.Set(ctx, key, data)
	return nil
}

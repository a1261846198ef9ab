package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/dashsync/internal/logging"
	"github.com/l0p7/dashsync/internal/metrics"
)

// DefaultTTL applies when neither the caller nor the configuration sets one.
const DefaultTTL = 5 * time.Minute

// Options tunes a RequestCache.
type Options struct {
	DefaultTTL time.Duration
	// Coalesce shares one in-flight producer call between concurrent misses
	// on the same key. Off by default: every miss runs its own producer.
	Coalesce bool
	Now      func() time.Time
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// RequestCache keeps short-lived copies of idempotent admin API reads. It is
// constructed once by the composition root and passed to every reader.
type RequestCache struct {
	store    Store
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Recorder
	coalesce bool
	group    singleflight.Group
	ttl      atomic.Int64
}

// New wraps store. The store's lifetime is owned by the RequestCache from here on.
func New(store Store, opts Options) *RequestCache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &RequestCache{
		store:    store,
		now:      now,
		logger:   logging.Agent(opts.Logger, "request_cache"),
		metrics:  opts.Metrics,
		coalesce: opts.Coalesce,
	}
	c.SetDefaultTTL(opts.DefaultTTL)
	return c
}

// DefaultTTL reports the lifetime used when Set receives ttl <= 0.
func (c *RequestCache) DefaultTTL() time.Duration {
	return time.Duration(c.ttl.Load())
}

// SetDefaultTTL swaps the default lifetime. Existing entries keep their expiry.
func (c *RequestCache) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.ttl.Store(int64(ttl))
}

// Get returns the cached payload for key. Expired entries are absent; backend
// failures are logged and also reported as absent.
func (c *RequestCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	start := time.Now()
	entry, ok, err := c.store.Lookup(ctx, key)
	switch {
	case err != nil:
		c.observe(key, metrics.CacheOperationLookup, metrics.CacheError, start)
		c.logger.Warn("cache lookup failed", slog.String("key", key), slog.Any("error", err))
		return nil, false
	case !ok:
		c.observe(key, metrics.CacheOperationLookup, metrics.CacheMiss, start)
		return nil, false
	}
	c.observe(key, metrics.CacheOperationLookup, metrics.CacheHit, start)
	return entry.Value, true
}

// Set stores value under key for ttl, replacing any previous entry. A ttl of
// zero or less uses the default.
func (c *RequestCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %q: %w", key, err)
	}
	return c.setRaw(ctx, key, payload, ttl)
}

func (c *RequestCache) setRaw(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.DefaultTTL()
	}
	start := time.Now()
	storedAt := c.now()
	entry := Entry{Value: payload, StoredAt: storedAt, ExpiresAt: storedAt.Add(ttl)}
	if err := c.store.Store(ctx, key, entry); err != nil {
		c.observe(key, metrics.CacheOperationStore, metrics.CacheError, start)
		return err
	}
	c.observe(key, metrics.CacheOperationStore, metrics.CacheOK, start)
	return nil
}

// Invalidate drops key if present.
func (c *RequestCache) Invalidate(ctx context.Context, key string) error {
	start := time.Now()
	if err := c.store.Delete(ctx, key); err != nil {
		c.observe(key, metrics.CacheOperationInvalidate, metrics.CacheError, start)
		return err
	}
	c.observe(key, metrics.CacheOperationInvalidate, metrics.CacheOK, start)
	return nil
}

// InvalidatePattern drops every entry whose key matches pattern.
func (c *RequestCache) InvalidatePattern(ctx context.Context, pattern *regexp.Regexp) error {
	if pattern == nil {
		return nil
	}
	start := time.Now()
	if err := c.store.DeleteMatching(ctx, pattern); err != nil {
		c.observe("", metrics.CacheOperationInvalidate, metrics.CacheError, start)
		return err
	}
	c.observe("", metrics.CacheOperationInvalidate, metrics.CacheOK, start)
	c.logger.Debug("cache pattern invalidated", slog.String("pattern", pattern.String()))
	return nil
}

// Clear empties the cache.
func (c *RequestCache) Clear(ctx context.Context) error {
	start := time.Now()
	if err := c.store.Clear(ctx); err != nil {
		c.observe("", metrics.CacheOperationClear, metrics.CacheError, start)
		return err
	}
	c.observe("", metrics.CacheOperationClear, metrics.CacheOK, start)
	return nil
}

// Size reports how many entries the backend holds.
func (c *RequestCache) Size(ctx context.Context) (int64, error) {
	return c.store.Size(ctx)
}

// Close releases the backend.
func (c *RequestCache) Close(ctx context.Context) error {
	return c.store.Close(ctx)
}

func (c *RequestCache) observe(key string, op metrics.CacheOperation, result metrics.CacheResult, start time.Time) {
	c.metrics.ObserveCache(Namespace(key), op, result, time.Since(start))
}

// Namespace returns the portion of key before the first colon, used as a
// low-cardinality metrics label.
func Namespace(key string) string {
	if key == "" {
		return "all"
	}
	ns, _, _ := strings.Cut(key, ":")
	return ns
}

// WithCache returns the cached value for key when one is valid. Otherwise it
// calls producer, stores the result for ttl and returns it. Producer errors
// are returned unchanged and nothing is cached. Unless the cache was built
// with Options.Coalesce, concurrent misses each call producer. A coalesced
// producer runs detached from the caller's cancellation.
func WithCache[T any](ctx context.Context, c *RequestCache, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	var zero T
	if raw, ok := c.Get(ctx, key); ok {
		var value T
		err := json.Unmarshal(raw, &value)
		if err == nil {
			return value, nil
		}
		c.logger.Warn("cached value undecodable, refetching", slog.String("key", key), slog.Any("error", err))
	}

	if !c.coalesce {
		value, err := producer(ctx)
		if err != nil {
			return zero, err
		}
		if err := c.Set(ctx, key, value, ttl); err != nil {
			c.logger.Warn("cache store failed", slog.String("key", key), slog.Any("error", err))
		}
		return value, nil
	}

	// The shared producer outlives any single waiter; each caller still
	// returns as soon as its own context ends.
	detached := context.WithoutCancel(ctx)
	flight := c.group.DoChan(key, func() (any, error) {
		value, err := producer(detached)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cache: marshal %q: %w", key, err)
		}
		if err := c.setRaw(detached, key, payload, ttl); err != nil {
			c.logger.Warn("cache store failed", slog.String("key", key), slog.Any("error", err))
		}
		return json.RawMessage(payload), nil
	})
	var shared any
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return zero, res.Err
		}
		shared = res.Val
	}
	var value T
	if err := json.Unmarshal(shared.(json.RawMessage), &value); err != nil {
		return zero, fmt.Errorf("cache: decode shared %q: %w", key, err)
	}
	return value, nil
}

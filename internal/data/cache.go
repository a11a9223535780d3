package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/contactkeval/iv-surface/internal/chain"
	"github.com/contactkeval/iv-surface/internal/logger"
)

// CacheConfig sizes the response cache.
type CacheConfig struct {
	TTL   time.Duration `mapstructure:"ttl" json:"ttl"`       // global entry lifetime; 0 disables caching in the engine
	MaxMB int           `mapstructure:"max_mb" json:"max_mb"` // hard memory cap
}

// ClosableProvider is a Provider holding resources that must be released.
type ClosableProvider interface {
	Provider
	io.Closer
}

// cachedProvider memoizes another provider's responses in bigcache. Errors
// are never cached.
type cachedProvider struct {
	inner Provider
	cache *bigcache.BigCache
}

// NewCachedProvider wraps inner. BigCache has a single global TTL, so every
// response kind expires after cfg.TTL.
func NewCachedProvider(inner Provider, cfg CacheConfig) (ClosableProvider, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", cfg.TTL)
	}
	config := bigcache.DefaultConfig(cfg.TTL)
	config.HardMaxCacheSize = cfg.MaxMB
	config.CleanWindow = time.Minute
	config.Verbose = false

	c, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("initializing bigcache: %w", err)
	}
	logger.Debugf("caching %s responses for %s", inner.Name(), cfg.TTL)
	return &cachedProvider{inner: inner, cache: c}, nil
}

func (c *cachedProvider) Name() string {
	return c.inner.Name()
}

func (c *cachedProvider) Secondary() Provider {
	return c.inner.Secondary()
}

// Close releases the cache.
func (c *cachedProvider) Close() error {
	return c.cache.Close()
}

func (c *cachedProvider) Spot(ctx context.Context, symbol string) (float64, error) {
	return cached(c, "spot|"+normalizeSymbol(symbol), func() (float64, error) {
		return c.inner.Spot(ctx, symbol)
	})
}

func (c *cachedProvider) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return cached(c, "exp|"+normalizeSymbol(symbol), func() ([]time.Time, error) {
		return c.inner.Expirations(ctx, symbol)
	})
}

func (c *cachedProvider) Chain(ctx context.Context, symbol string, expiration time.Time) ([]chain.MarketQuote, error) {
	key := "chain|" + normalizeSymbol(symbol) + "|" + expiration.Format(time.DateOnly)
	return cached(c, key, func() ([]chain.MarketQuote, error) {
		return c.inner.Chain(ctx, symbol, expiration)
	})
}

func (c *cachedProvider) Bars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	key := "bars|" + normalizeSymbol(symbol) + "|" + from.Format(time.DateOnly) + "|" + to.Format(time.DateOnly)
	return cached(c, key, func() ([]Bar, error) {
		return c.inner.Bars(ctx, symbol, from, to)
	})
}

// cached returns the decoded entry for key, or calls load and stores its
// JSON encoding.
func cached[T any](c *cachedProvider, key string, load func() (T, error)) (T, error) {
	if raw, err := c.cache.Get(key); err == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			logger.Tracef("cache hit %s", key)
			return v, nil
		}
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		logger.Debugf("cache get %s: %v", key, err)
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err == nil {
		if err := c.cache.Set(key, raw); err != nil {
			logger.Debugf("cache set %s: %v", key, err)
		}
	}
	return v, nil
}

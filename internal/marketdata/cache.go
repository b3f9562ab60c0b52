package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/rs/zerolog"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/resilience"
	"options-risk-engine/pkg/utils"
)

type cacheEntry struct {
	Data      models.MarketData `json:"data"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// newQuoteStore sizes bigcache for a few hundred underlyings. Entries outlive
// the TTL by up to a LifeWindow; freshness is judged against the provider's
// clock on read.
func newQuoteStore(ttl time.Duration) (*bigcache.BigCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 16
	cfg.CleanWindow = 0
	cfg.MaxEntriesInWindow = 1024
	cfg.MaxEntrySize = 256
	cfg.Verbose = false
	return bigcache.New(context.Background(), cfg)
}

// CachingProvider wraps an upstream provider with a TTL cache, retry and a
// circuit breaker. When the upstream is failing, a cached quote that has
// outlived its TTL is not served; the caller gets MarketDataUnavailable.
type CachingProvider struct {
	upstream Provider
	ttl      time.Duration
	retry    utils.RetryConfig
	breaker  *resilience.Breaker
	logger   zerolog.Logger
	now      func() time.Time

	cache *bigcache.BigCache
}

// NewCachingProvider creates a caching wrapper around upstream.
func NewCachingProvider(upstream Provider, ttl time.Duration, logger zerolog.Logger) (*CachingProvider, error) {
	cache, err := newQuoteStore(ttl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create quote cache")
	}
	retry := utils.DefaultRetryConfig()
	retry.Retryable = func(err error) bool { return !unknownSymbol(err) }
	breakerCfg := resilience.DefaultConfig()
	breakerCfg.Benign = unknownSymbol
	return &CachingProvider{
		upstream: upstream,
		ttl:      ttl,
		retry:    retry,
		breaker:  resilience.NewBreaker("market-data", breakerCfg),
		logger:   logging.WithComponent(logger, "marketdata"),
		now:      time.Now,
		cache:    cache,
	}, nil
}

// unknownSymbol reports errors where the upstream answered but has no data;
// retrying will not help and the upstream is healthy.
func unknownSymbol(err error) bool {
	var mdErr *errors.MarketDataError
	return errors.As(err, &mdErr)
}

// WithRetry overrides the retry policy.
func (c *CachingProvider) WithRetry(cfg utils.RetryConfig) *CachingProvider {
	if cfg.Retryable == nil {
		cfg.Retryable = c.retry.Retryable
	}
	c.retry = cfg
	return c
}

// WithBreaker overrides the circuit breaker.
func (c *CachingProvider) WithBreaker(b *resilience.Breaker) *CachingProvider {
	c.breaker = b
	return c
}

// Quote returns a cached quote younger than the TTL, otherwise fetches one.
func (c *CachingProvider) Quote(ctx context.Context, symbol string) (models.MarketData, error) {
	if md, ok := c.cached(symbol); ok {
		return md, nil
	}

	md, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) (models.MarketData, error) {
		return utils.RetryWithResult(ctx, c.retry, func(ctx context.Context) (models.MarketData, error) {
			return c.upstream.Quote(ctx, symbol)
		})
	})
	if err != nil {
		if errors.Is(err, errors.ErrMarketDataUnavailable) || ctx.Err() != nil {
			return models.MarketData{}, err
		}
		return models.MarketData{}, errors.NewMarketDataError(symbol, "upstream fetch failed", err)
	}

	c.store(symbol, md)
	c.logger.Debug().Str("symbol", symbol).Float64("spot", md.Spot).Msg("Quote refreshed")
	return md, nil
}

func (c *CachingProvider) cached(symbol string) (models.MarketData, bool) {
	raw, err := c.cache.Get(symbol)
	if err != nil {
		return models.MarketData{}, false
	}
	var e cacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.MarketData{}, false
	}
	if c.now().Sub(e.FetchedAt) >= c.ttl {
		return models.MarketData{}, false
	}
	return e.Data, true
}

// store failures only cost a refetch, so they are logged and dropped.
func (c *CachingProvider) store(symbol string, md models.MarketData) {
	raw, err := json.Marshal(cacheEntry{Data: md, FetchedAt: c.now()})
	if err == nil {
		err = c.cache.Set(symbol, raw)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Quote not cached")
	}
}

// Invalidate drops a cached quote.
func (c *CachingProvider) Invalidate(symbol string) {
	if err := c.cache.Delete(symbol); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Quote invalidation failed")
	}
}

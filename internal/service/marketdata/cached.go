package marketdata

import (
	"context"
	"errors"
	"time"

	"EnigmaHub/internal/domain/models"
	domrepo "EnigmaHub/internal/domain/repository"
	pkgcache "EnigmaHub/pkg/cache"
)

// CachedSource wraps a MarketDataSource with a short-lived quote cache so
// concurrent consumers do not hammer the provider's rate limit.
type CachedSource struct {
	source domrepo.MarketDataSource
	cache  pkgcache.Service
	ttl    time.Duration
}

// NewCached decorates source with quote caching.
func NewCached(source domrepo.MarketDataSource, cache pkgcache.Service, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CachedSource{source: source, cache: cache, ttl: ttl}
}

func (c *CachedSource) Latest(ctx context.Context, symbol string) (*models.Quote, error) {
	key := "quote:" + symbol

	var cached models.Quote
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, pkgcache.ErrCacheMiss) {
		// Cache backend trouble is not fatal; fall through to the provider.
		err = nil
	}

	q, err := c.source.Latest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(ctx, key, q, c.ttl)
	return q, nil
}

package pricefeed

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "fxa:price:"

// KV is the slice of the redis client the cache needs. *redis.Client satisfies it.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedSource is a read-through redis cache in front of another Source.
// Redis errors never fail a lookup; they only bypass the cache.
type CachedSource struct {
	kv     KV
	inner  Source
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedSource(kv KV, inner Source, ttl time.Duration, logger *zap.Logger) *CachedSource {
	return &CachedSource{kv: kv, inner: inner, ttl: ttl, logger: logger.Named("price-cache")}
}

func (c *CachedSource) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := cacheKeyPrefix + NormalizeSymbol(symbol)

	val, err := c.kv.Get(ctx, key).Result()
	switch {
	case err == nil:
		if price, perr := decimal.NewFromString(val); perr == nil {
			return price, nil
		}
		c.logger.Warn("Discarding unparsable cached price", zap.String("key", key), zap.String("value", val))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("Price cache read failed", zap.String("key", key), zap.Error(err))
	}

	price, err := c.inner.LatestPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.kv.Set(ctx, key, price.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("Price cache write failed", zap.String("key", key), zap.Error(err))
	}
	return price, nil
}

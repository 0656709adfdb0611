package pricefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryKV struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	readErr error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return redis.NewStringResult("", m.readErr)
	}
	v, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestCachedSource(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss then hit", func(t *testing.T) {
		kv := newMemoryKV()
		inner := &staticSource{price: decimal.RequireFromString("1.0950")}
		src := NewCachedSource(kv, inner, 15*time.Second, zap.NewNop())

		price, err := src.LatestPrice(ctx, "eur/usd")
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("1.095")))
		assert.Equal(t, "1.095", kv.values["fxa:price:EURUSD"])
		assert.Equal(t, 15*time.Second, kv.ttls["fxa:price:EURUSD"])

		price, err = src.LatestPrice(ctx, "EURUSD")
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("1.095")))
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("Redis failure falls through", func(t *testing.T) {
		kv := newMemoryKV()
		kv.readErr = errors.New("connection refused")
		inner := &staticSource{price: decimal.RequireFromString("150.1")}

		price, err := NewCachedSource(kv, inner, time.Second, zap.NewNop()).LatestPrice(ctx, "USDJPY")
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("150.1")))
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("Inner error is not cached", func(t *testing.T) {
		kv := newMemoryKV()
		inner := &staticSource{err: ErrPriceUnavailable}

		_, err := NewCachedSource(kv, inner, time.Second, zap.NewNop()).LatestPrice(ctx, "USDJPY")
		assert.ErrorIs(t, err, ErrPriceUnavailable)
		assert.Empty(t, kv.values)
	})
}

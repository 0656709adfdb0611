package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fx-signal-auditor/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrPriceUnavailable = errors.New("price unavailable")

// Source returns the latest known price for a symbol.
type Source interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

var symbolReplacer = strings.NewReplacer("/", "", "-", "", "_", "", " ", "")

// NormalizeSymbol maps "eur/usd", "EUR-USD" and "EUR_USD" to "EURUSD".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbolReplacer.Replace(strings.TrimSpace(symbol)))
}

// StoreSource reads the market state table maintained by the streaming job.
type StoreSource struct {
	store  repository.PriceStore
	maxAge time.Duration
	now    func() time.Time
}

// NewStoreSource builds a StoreSource. A zero maxAge accepts any quote age.
func NewStoreSource(store repository.PriceStore, maxAge time.Duration) *StoreSource {
	return &StoreSource{store: store, maxAge: maxAge, now: time.Now}
}

func (s *StoreSource) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	state, err := s.store.LatestPrice(ctx, NormalizeSymbol(symbol))
	if errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrPriceUnavailable)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if s.maxAge > 0 && s.now().Sub(state.LastUpdate) > s.maxAge {
		return decimal.Zero, fmt.Errorf("%s: quote from %s is stale: %w", symbol, state.LastUpdate.Format(time.RFC3339), ErrPriceUnavailable)
	}
	if !state.CurrentPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: non-positive quote: %w", symbol, ErrPriceUnavailable)
	}
	return state.CurrentPrice, nil
}

// Chain asks each source in order and returns the first price found.
type Chain struct {
	sources []Source
	logger  *zap.Logger
}

func NewChain(logger *zap.Logger, sources ...Source) *Chain {
	return &Chain{sources: sources, logger: logger.Named("pricefeed")}
}

func (c *Chain) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	for i, src := range c.sources {
		price, err := src.LatestPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		c.logger.Debug("Price source failed", zap.Int("source", i), zap.String("symbol", symbol), zap.Error(err))
	}
	return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrPriceUnavailable)
}

package pricefeed

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"fx-signal-auditor/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxRetries = 3

// Quote is the response of the quote API.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // unix millis
}

// QuoteClient is a client for an HTTP quote API, used when the market state table has no fresh row.
type QuoteClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration
}

var _ Source = (*QuoteClient)(nil)

func NewQuoteClient(cfg config.PriceFeed, logger *zap.Logger) *QuoteClient {
	client := resty.New().SetBaseURL(cfg.QuoteBaseURL)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &QuoteClient{
		client:  client,
		logger:  logger.Named("quote-client"),
		limiter: limiter,
		backoff: time.Second,
	}
}

// GetQuote fetches the latest quote for a symbol.
func (c *QuoteClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	req := c.client.R().
		SetResult(&Quote{}).
		SetPathParam("symbol", symbol).
		SetHeader("Accept", "application/json")

	resp, err := c.doRequest(ctx, http.MethodGet, "/quotes/{symbol}", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}

	return resp.Result().(*Quote), nil
}

func (c *QuoteClient) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	quote, err := c.GetQuote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !quote.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: non-positive quote: %w", symbol, ErrPriceUnavailable)
	}
	return quote.Price, nil
}

// doRequest executes req with rate limiting, retrying throttled, 5xx and transport failures.
func (c *QuoteClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	req.SetContext(ctx)

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.RawResponse != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}
		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// exponential: backoff, 2*backoff, 4*backoff
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil && resp != nil {
		err = fmt.Errorf("status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

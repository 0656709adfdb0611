package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a QuoteClient configured to use it.
func setupTestServer(handler http.Handler) (*QuoteClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	qc := &QuoteClient{
		client:  resty.New().SetBaseURL(server.URL),
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1),
		backoff: time.Millisecond,
	}

	return qc, server
}

func TestGetQuote(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/quotes/EURUSD", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"EURUSD","price":"1.0950","timestamp":1700000000000}`))
		})

		qc, server := setupTestServer(handler)
		defer server.Close()

		quote, err := qc.GetQuote(context.Background(), "eur/usd")
		require.NoError(t, err)
		assert.Equal(t, "EURUSD", quote.Symbol)
		assert.True(t, quote.Price.Equal(decimal.RequireFromString("1.095")))
		assert.Equal(t, int64(1700000000000), quote.Timestamp)
	})

	t.Run("RetriesServerErrors", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"USDJPY","price":150.25,"timestamp":1}`))
		})

		qc, server := setupTestServer(handler)
		defer server.Close()

		price, err := qc.LatestPrice(context.Background(), "USDJPY")
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("150.25")))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		qc, server := setupTestServer(handler)
		defer server.Close()

		_, err := qc.GetQuote(context.Background(), "EURUSD")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get quote")
		assert.Contains(t, err.Error(), "request failed after 3 attempts")
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&calls))
	})

	t.Run("ClientErrorIsNotRetried", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown symbol"}`))
		})

		qc, server := setupTestServer(handler)
		defer server.Close()

		_, err := qc.GetQuote(context.Background(), "XXXYYY")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "404")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("NonPositivePriceUnavailable", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"EURUSD","price":"0","timestamp":1}`))
		})

		qc, server := setupTestServer(handler)
		defer server.Close()

		_, err := qc.LatestPrice(context.Background(), "EURUSD")
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})
}

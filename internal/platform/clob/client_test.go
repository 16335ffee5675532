package clob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:           srv.URL,
		APIKey:            "test-key",
		APISecret:         "test-secret",
		RequestsPerSecond: 1000,
	})
	return c, srv
}

func TestGetQuote(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NotEmpty(t, r.Header.Get("X-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-API-SIGNATURE"))
		json.NewEncoder(w).Encode(map[string]any{
			"instrument": "market-yes",
			"bid":        "0.4400",
			"ask":        "0.4600",
			"bid_size":   "250",
			"ask_size":   "120",
			"ts":         1756700000000,
		})
	}))

	q, err := c.GetQuote(context.Background(), "market-yes")
	require.NoError(t, err)
	assert.Equal(t, "/quote/market-yes", gotPath)
	assert.True(t, q.Bid.Equal(decimal.NewFromFloat(0.44)))
	assert.True(t, q.Ask.Equal(decimal.NewFromFloat(0.46)))
	assert.True(t, q.Volume.Equal(decimal.NewFromInt(120)), "volume is the thinner side of the touch")
	assert.False(t, q.Timestamp.IsZero())
}

func TestPlaceOrder(t *testing.T) {
	t.Run("limit order carries the price", func(t *testing.T) {
		var got apiOrderRequest
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(apiOrderResult{Success: true, OrderID: "ord-1"})
		}))

		price := decimal.NewFromFloat(0.44)
		handle, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
			Instrument: "market-yes",
			Side:       domain.OrderSideSell,
			Quantity:   decimal.NewFromInt(50),
			Type:       domain.OrderTypeLimit,
			LimitPrice: &price,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderHandle("ord-1"), handle)
		assert.Equal(t, "sell", got.Side)
		assert.Equal(t, "limit", got.Type)
		assert.Equal(t, "0.4400", got.Price)
	})

	t.Run("market order omits the price", func(t *testing.T) {
		var got apiOrderRequest
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(apiOrderResult{Success: true, OrderID: "ord-2"})
		}))

		_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
			Instrument: "market-yes",
			Side:       domain.OrderSideSell,
			Quantity:   decimal.NewFromInt(50),
			Type:       domain.OrderTypeMarket,
		})
		require.NoError(t, err)
		assert.Empty(t, got.Price)
	})

	t.Run("application-level rejection", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(apiOrderResult{Success: false, ErrorMsg: "insufficient balance"})
		}))

		_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
			Instrument: "market-yes",
			Side:       domain.OrderSideSell,
			Quantity:   decimal.NewFromInt(50),
			Type:       domain.OrderTypeMarket,
		})
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	})
}

func TestOrderStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiOrderState{
			OrderID:        "ord-1",
			Status:         "filled",
			FilledQuantity: "50",
			AvgFillPrice:   "0.4400",
		})
	}))

	state, err := c.OrderStatus(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.True(t, state.Filled)
	assert.True(t, state.FilledQuantity.Equal(decimal.NewFromInt(50)))
	assert.True(t, state.FillPrice.Equal(decimal.NewFromFloat(0.44)))
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"404 is not found", http.StatusNotFound, "no such order", domain.ErrNotFound},
		{"429 is rate limited", http.StatusTooManyRequests, "slow down", domain.ErrRateLimited},
		{"500 is transient", http.StatusInternalServerError, "oops", domain.ErrTransient},
		{"503 is transient", http.StatusServiceUnavailable, "maintenance", domain.ErrTransient},
		{"400 is a rejection", http.StatusBadRequest, "bad tick size", domain.ErrOrderRejected},
		{"422 balance is insufficient funds", http.StatusUnprocessableEntity, "insufficient balance", domain.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tc.body, tc.status)
			}))
			_, err := c.GetQuote(context.Background(), "market-yes")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // nothing is listening anymore

	c := NewClient(Config{BaseURL: url, RequestsPerSecond: 1000})
	_, err := c.GetQuote(context.Background(), "market-yes")
	assert.ErrorIs(t, err, domain.ErrTransient)
}

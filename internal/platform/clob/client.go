// Package clob is the REST and websocket client for the exchange's central
// limit order book API. It implements the engine's quote and order ports and
// maps HTTP failures onto the domain error taxonomy.
package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/exitbot/internal/crypto"
	"github.com/alanyoungcy/exitbot/internal/domain"
)

// Config holds connection parameters for the CLOB client.
type Config struct {
	BaseURL   string
	WSBaseURL string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// RequestsPerSecond paces outbound calls locally, below the exchange's
	// hard limit. The shared Redis limiter governs the quote budget; this
	// one just keeps a single process polite.
	RequestsPerSecond float64
}

// Client is the REST client for the exchange CLOB API.
type Client struct {
	baseURL    string
	auth       crypto.HMACAuth
	httpClient *http.Client
	pacer      *rate.Limiter
}

// NewClient creates a new CLOB REST client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pacer: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// GetQuote returns the current top-of-book for an instrument.
func (c *Client) GetQuote(ctx context.Context, instrument string) (domain.Quote, error) {
	path := "/quote/" + url.PathEscape(instrument)

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("clob: get quote %s: %w", instrument, err)
	}

	var aq apiQuote
	if err := json.Unmarshal(body, &aq); err != nil {
		return domain.Quote{}, fmt.Errorf("clob: decode quote %s: %w", instrument, err)
	}
	q, err := aq.toDomain()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("clob: parse quote %s: %w", instrument, err)
	}
	return q, nil
}

// PlaceOrder submits an order and returns its exchange handle.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	payload := apiOrderRequest{
		Instrument: req.Instrument,
		Side:       string(req.Side),
		Type:       string(req.Type),
		Quantity:   req.Quantity.String(),
	}
	if req.LimitPrice != nil {
		payload.Price = req.LimitPrice.StringFixed(domain.PricePlaces)
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return "", fmt.Errorf("clob: place order: %w", err)
	}

	var result apiOrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("clob: decode order result: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("clob: place order: %w: %s", rejectionError(result.ErrorMsg), result.ErrorMsg)
	}

	return domain.OrderHandle(result.OrderID), nil
}

// CancelOrder cancels a live order. Cancelling an order that already filled
// is not an error; the caller reads the final status afterwards.
func (c *Client) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	path := "/orders/" + url.PathEscape(string(handle))

	_, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("clob: cancel order %s: %w", handle, err)
	}
	return nil
}

// OrderStatus returns the current fill state of an order.
func (c *Client) OrderStatus(ctx context.Context, handle domain.OrderHandle) (domain.OrderState, error) {
	path := "/orders/" + url.PathEscape(string(handle))

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("clob: order status %s: %w", handle, err)
	}

	var state apiOrderState
	if err := json.Unmarshal(body, &state); err != nil {
		return domain.OrderState{}, fmt.Errorf("clob: decode order status %s: %w", handle, err)
	}
	ds, err := state.toDomain()
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("clob: parse order status %s: %w", handle, err)
	}
	return ds, nil
}

// doRequest builds, signs, sends and reads an HTTP request against the CLOB
// API. It returns the raw response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pacer: %w", err)
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection failures and timeouts are retryable.
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransient, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, bodyStr)
	case statusCode == http.StatusBadRequest, statusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", rejectionError(bodyStr), bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// rejectionError distinguishes balance rejections from general order
// rejections so the executor can alert with the right severity.
func rejectionError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "insufficient") || strings.Contains(lower, "balance") {
		return domain.ErrInsufficientFunds
	}
	return domain.ErrOrderRejected
}

// Compile-time interface checks.
var (
	_ domain.QuoteSource   = (*Client)(nil)
	_ domain.OrderExecutor = (*Client)(nil)
)

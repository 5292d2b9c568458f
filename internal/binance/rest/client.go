package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"futures-gateway/internal/metrics"

	"go.uber.org/zap"
)

// Client talks to the Binance USDⓈ-M futures REST API. It owns the
// HTTP connection pool and the wall-clock offset against the exchange
// server time that every signed request depends on.
type Client struct {
	baseURL string
	http    *http.Client
	creds   Credentials
	retry   RetryPolicy
	log     *zap.Logger
	metrics *metrics.Metrics

	offsetMS atomic.Int64
	synced   atomic.Bool
	now      func() time.Time
}

func NewClient(baseURL string, timeout time.Duration, creds Credentials, retry RetryPolicy, log *zap.Logger) *Client {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		creds:   creds,
		retry:   retry,
		log:     log,
		metrics: metrics.NewNoop(),
		now:     time.Now,
	}
	if !creds.Configured() {
		log.Warn("api key or secret missing, private endpoints will fail")
	}
	return c
}

func (c *Client) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		c.metrics = m
	}
}

// ClockOffset returns the last synced offset and whether a sync has
// ever succeeded.
func (c *Client) ClockOffset() (time.Duration, bool) {
	return time.Duration(c.offsetMS.Load()) * time.Millisecond, c.synced.Load()
}

// SyncTime refreshes the offset between the exchange server clock and
// the local clock. A failed sync leaves the previous offset untouched.
func (c *Client) SyncTime(ctx context.Context) error {
	payload, err := c.get(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return err
	}
	body, ok := payload.(map[string]any)
	if !ok {
		return &UpstreamError{Status: http.StatusOK, Body: "unexpected server time payload"}
	}
	serverMS, ok := intFromAny(body["serverTime"])
	if !ok {
		return &UpstreamError{Status: http.StatusOK, Body: "serverTime missing from payload"}
	}
	localMS := c.now().UnixMilli()
	c.offsetMS.Store(serverMS - localMS)
	c.synced.Store(true)
	c.metrics.TimeSyncs.Inc()
	c.log.Debug("server time synced", zap.Int64("offset_ms", serverMS-localMS))
	return nil
}

func (c *Client) ExchangeInfo(ctx context.Context) (map[string]any, error) {
	payload, err := c.get(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	info, ok := payload.(map[string]any)
	if !ok {
		return nil, &UpstreamError{Status: http.StatusOK, Body: "unexpected exchangeInfo payload"}
	}
	return info, nil
}

// MarkPrice fetches premiumIndex data. With a symbol the exchange
// returns a single object, without one it returns an array; callers
// must handle both shapes.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (any, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	return c.get(ctx, "/fapi/v1/premiumIndex", params)
}

// SetLeverage is idempotent on the exchange side, so transient failures
// are retried like public GETs.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (map[string]any, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	payload, err := c.signedWithRetry(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	if err != nil {
		return nil, err
	}
	return asObject(payload)
}

// PlaceMarketOrder submits the one non-idempotent call in the gateway.
// It is never retried; a duplicate submission is worse than a failure.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol, side, quantity string, reduceOnly bool) (map[string]any, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", quantity)
	params.Set("reduceOnly", strconv.FormatBool(reduceOnly))
	payload, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	return asObject(payload)
}

func (c *Client) PositionRisk(ctx context.Context, symbol string) (any, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	return c.signedWithRetry(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
}

func (c *Client) AccountInfo(ctx context.Context) (map[string]any, error) {
	payload, err := c.signedWithRetry(ctx, http.MethodGet, "/fapi/v2/account", url.Values{})
	if err != nil {
		return nil, err
	}
	return asObject(payload)
}

func (c *Client) Balance(ctx context.Context) (any, error) {
	return c.signedWithRetry(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (any, error) {
	var payload any
	err := c.retry.Do(ctx, func() error {
		var err error
		payload, err = c.doRequest(ctx, http.MethodGet, path, params, "")
		return err
	}, c.metrics.UpstreamRetries.Inc)
	return payload, err
}

func (c *Client) signedWithRetry(ctx context.Context, method, path string, params url.Values) (any, error) {
	if err := c.ensureSigningReady(ctx); err != nil {
		return nil, err
	}
	var payload any
	err := c.retry.Do(ctx, func() error {
		var err error
		payload, err = c.doSigned(ctx, method, path, params)
		return err
	}, c.metrics.UpstreamRetries.Inc)
	return payload, err
}

func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values) (any, error) {
	if err := c.ensureSigningReady(ctx); err != nil {
		return nil, err
	}
	return c.doSigned(ctx, method, path, params)
}

func (c *Client) ensureSigningReady(ctx context.Context) error {
	if !c.creds.Configured() {
		return ErrCredentialsMissing
	}
	if !c.synced.Load() {
		if err := c.SyncTime(ctx); err != nil {
			return err
		}
	}
	return nil
}

// doSigned stamps a server-aligned timestamp, signs the canonical query
// string and sends the API key header. The timestamp is computed per
// attempt so retried calls stay inside the exchange skew window.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) (any, error) {
	signed := url.Values{}
	for key, vals := range params {
		for _, v := range vals {
			signed.Add(key, v)
		}
	}
	signed.Set("timestamp", strconv.FormatInt(c.nowMillis(), 10))
	query := signed.Encode()
	query += "&signature=" + sign(c.creds.APISecret, query)
	return c.doRaw(ctx, method, path+"?"+query, c.creds.APIKey)
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, apiKey string) (any, error) {
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return c.doRaw(ctx, method, target, apiKey)
}

func (c *Client) doRaw(ctx context.Context, method, pathAndQuery, apiKey string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &UpstreamError{Cause: fmt.Errorf("decode response: %w", err)}
	}
	return payload, nil
}

func (c *Client) nowMillis() int64 {
	return c.now().UnixMilli() + c.offsetMS.Load()
}

func asObject(payload any) (map[string]any, error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, &UpstreamError{Status: http.StatusOK, Body: "unexpected response shape"}
	}
	return obj, nil
}

func intFromAny(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case int64:
		return val, true
	case int:
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

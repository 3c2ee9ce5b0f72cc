package xpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/xpay-demo/internal/obs"
	"github.com/noah-isme/xpay-demo/internal/resilience"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.x-pay.fun"

const (
	headerAPIKey    = "X-API-KEY"
	headerTimestamp = "X-TIMESTAMP"
	headerSignature = "X-SIGNATURE"

	maxResponseBytes = 1 << 20
)

// ErrInitialization is returned by New when the client cannot be built from
// the supplied credentials.
var ErrInitialization = errors.New("xpay: initialization failed")

// Config carries credentials and transport tuning for the gateway client.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string

	Timeout             time.Duration
	RetryMaxAttempts    int
	RetryBase           time.Duration
	RetryJitter         float64
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	// WebhookTolerance rejects webhooks whose timestamp is further than this
	// from now. Zero disables the check.
	WebhookTolerance time.Duration
}

// APIError is a non-success envelope returned by the gateway.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.HTTPStatus)
	}
	return fmt.Sprintf("xpay: code %d (http %d): %s", e.Code, e.HTTPStatus, msg)
}

// Client talks to the X-Pay HTTP API.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	tolerance time.Duration

	http   resilience.HTTPClient
	clock  clock.Clock
	logger zerolog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http.Client = hc
		}
	}
}

// WithClock sets the clock used for request timestamps and webhook freshness.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithWebhookTolerance overrides Config.WebhookTolerance.
func WithWebhookTolerance(d time.Duration) Option {
	return func(c *Client) {
		c.tolerance = d
	}
}

// New builds a client. Missing credentials yield an error wrapping ErrInitialization.
func New(cfg Config, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.APISecret)
	switch {
	case key == "" && secret == "":
		return nil, fmt.Errorf("%w: api key and api secret are required", ErrInitialization)
	case key == "":
		return nil, fmt.Errorf("%w: api key is required", ErrInitialization)
	case secret == "":
		return nil, fmt.Errorf("%w: api secret is required", ErrInitialization)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%w: invalid base url: %v", ErrInitialization, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		apiKey:    key,
		apiSecret: secret,
		baseURL:   base,
		tolerance: cfg.WebhookTolerance,
		clock:     clock.New(),
		logger:    zerolog.Nop(),
		http: resilience.HTTPClient{
			Client: &http.Client{
				Timeout:   timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      cfg.RetryJitter,
			Timeout:     timeout,
			Target:      "xpay",
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	logger := c.logger.With().Str("component", "xpay").Logger()
	c.logger = logger
	c.http.Logger = &c.logger
	c.http.Clock = c.clock
	c.http.Breaker = resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("xpay").
		WithLogger(logger).
		WithClock(c.clock)
	return c, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateCollection opens a collection (deposit) order.
func (c *Client) CreateCollection(ctx context.Context, req CollectionRequest) (Collection, error) {
	var out Collection
	err := c.do(ctx, "create_collection", http.MethodPost, "/v1/orders/collection", nil, req, &out)
	return out, err
}

// CreatePayout opens a payout (withdrawal) order.
func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (Payout, error) {
	var out Payout
	err := c.do(ctx, "create_payout", http.MethodPost, "/v1/orders/payout", nil, req, &out)
	return out, err
}

// OrderStatus fetches the current status of an order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var out OrderStatus
	if strings.TrimSpace(orderID) == "" {
		return out, errors.New("xpay: order id is required")
	}
	err := c.do(ctx, "order_status", http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, nil, &out)
	return out, err
}

// SupportedSymbols lists symbol/chain pairs, optionally filtered.
func (c *Client) SupportedSymbols(ctx context.Context, chain, symbol string) ([]Symbol, error) {
	q := url.Values{}
	if chain = strings.TrimSpace(chain); chain != "" {
		q.Set("chain", chain)
	}
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		q.Set("symbol", symbol)
	}
	var out []Symbol
	err := c.do(ctx, "supported_symbols", http.MethodGet, "/v1/symbols", q, nil, &out)
	return out, err
}

// VerifyWebhook checks a webhook signature and timestamp.
func (c *Client) VerifyWebhook(body, signature, timestamp string) error {
	return verifyWebhook(c.apiSecret, c.tolerance, c.clock.Now(), body, signature, timestamp)
}

// SignWebhook computes the signature the gateway would send for body at timestamp.
func (c *Client) SignWebhook(body, timestamp string) string {
	return SignWebhook(c.apiSecret, body, timestamp)
}

// ParseWebhook decodes a webhook body.
func (c *Client) ParseWebhook(body []byte) (Event, error) {
	return ParseWebhook(body)
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) (err error) {
	start := c.clock.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		if obs.GatewayRequestsTotal != nil {
			obs.GatewayRequestsTotal.WithLabelValues(op, result).Inc()
		}
		if obs.GatewayRequestLatency != nil {
			obs.GatewayRequestLatency.WithLabelValues(op).Observe(obs.DurationMillis(c.clock.Now().Sub(start)))
		}
	}()

	var body []byte
	if in != nil {
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("xpay: encode %s request: %w", op, err)
		}
	}
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("xpay: build %s request: %w", op, err)
	}
	ts := strconv.FormatInt(c.clock.Now().UnixMilli(), 10)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, SignRequest(c.apiSecret, ts, method, target, body))

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("op", op).Msg("xpay_request_failed")
		return fmt.Errorf("xpay: %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("xpay: read %s response: %w", op, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{HTTPStatus: resp.StatusCode, Code: -1, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("xpay: decode %s response: %w", op, err)
	}
	if env.Code != 0 || resp.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Msg}
		c.logger.Warn().Str("op", op).Int("code", env.Code).Int("http_status", resp.StatusCode).Msg("xpay_api_error")
		return apiErr
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("xpay: decode %s data: %w", op, err)
	}
	return nil
}

// SignRequest computes the request signature: hex HMAC-SHA256 over
// timestamp, upper-case method, path with query, and body.
func SignRequest(secret, timestamp, method, target string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte(strings.ToUpper(method)))
	_, _ = mac.Write([]byte(target))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

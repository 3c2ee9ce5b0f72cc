package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xpay-demo/internal/app"
	"github.com/noah-isme/xpay-demo/internal/config"
	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/session"
	"github.com/noah-isme/xpay-demo/internal/xpay"
)

const (
	apiSecret = "sandbox-secret"
	sessionA  = "0b6a7d38-3f0e-4b59-9a0e-7f2b9a1e5c01"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		XPayAPIKey:              "sandbox-key",
		XPayAPISecret:           apiSecret,
		XPayMode:                config.ModeSandbox,
		XPayBreakerRatio:        0.5,
		SandboxOrderTTL:         30 * time.Minute,
		StatusPollInterval:      10 * time.Second,
		SessionIdleTTL:          time.Minute,
		WebhookReplayTTL:        time.Hour,
		IdempotencyTTL:          time.Minute,
		SymbolsCacheTTL:         time.Minute,
		RateLimitOrdersPerMin:   3,
		RateLimitWebhooksPerMin: 100,
		SecurityHeaders:         true,
		MaxBodyBytes:            1 << 16,
		MetricsEnabled:          true,
		MetricsNamespace:        "xpay_test",
	}
}

type server struct {
	deps    *app.Dependencies
	handler http.Handler
	clock   *clock.Mock
	redis   *miniredis.Miniredis
}

func newServer(t *testing.T, cfg *config.Config) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	deps, err := app.New(context.Background(), cfg, zerolog.Nop(),
		app.WithClock(mock),
		app.WithRedis(rdb),
		app.WithRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, deps.Close()) })
	return &server{deps: deps, handler: app.NewRouter(deps), clock: mock, redis: mr}
}

func (s *server) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		_ = json.NewEncoder(&buf).Encode(v)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func asSession(extra map[string]string) map[string]string {
	h := map[string]string{session.HeaderName: sessionA}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func collection(id string) map[string]string {
	return map[string]string{"amount": "25", "symbol": "USDT", "chain": "TRON", "uid": "user123", "orderId": id}
}

func TestHealthEndpoints(t *testing.T) {
	s := newServer(t, testConfig())

	rec := s.do(http.MethodGet, "/health/live", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Set-Cookie"), "sessions are only issued under /api")

	rec = s.do(http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, map[string]string{"redis": "ok", "gateway": "ok"}, status)
}

func TestCollectionFlowThroughWebhook(t *testing.T) {
	s := newServer(t, testConfig())

	rec := s.do(http.MethodPost, "/api/v1/orders/collection", collection("order-42"), asSession(nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, sessionA, rec.Header().Get(session.HeaderName))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = s.do(http.MethodGet, "/api/v1/session", nil, asSession(nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "order-42", snap.Order.ID)
	require.True(t, snap.Polling)
	require.Positive(t, snap.Remaining)

	rec = s.do(http.MethodGet, "/api/v1/session/qr.png?size=128", nil, asSession(nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	body := `{"notifyType":"ORDER_STATUS_CHANGE","data":{"orderId":"order-42","status":"SUCCESS","txid":"0xbeef"}}`
	ts := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	signed := map[string]string{"X-SIGNATURE": xpay.SignWebhook(apiSecret, body, ts), "X-TIMESTAMP": ts}
	rec = s.do(http.MethodPost, "/api/v1/webhooks/xpay", body, signed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/webhooks/xpay", body, signed)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/session", nil, asSession(nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, order.StatusSuccess, snap.Order.Status)
	require.Equal(t, "0xbeef", snap.Order.TxID)
	require.False(t, snap.Polling)

	rec = s.do(http.MethodDelete, "/api/v1/session", nil, asSession(nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, live := s.deps.Sessions.Lookup(sessionA)
	require.False(t, live)
}

func TestSandboxForceStatusAndPollingRoute(t *testing.T) {
	s := newServer(t, testConfig())
	rec := s.do(http.MethodPost, "/api/v1/orders/collection", collection("order-7"), asSession(nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/sandbox/orders/order-7/status", map[string]string{"status": "PENDING_CONFIRMATION"}, asSession(nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/orders/order-7/status", nil, asSession(nil))
	require.Equal(t, http.StatusOK, rec.Code)

	snap, err := s.deps.Sessions.Get(sessionA).Snapshot()
	require.NoError(t, err)
	require.Equal(t, order.StatusPendingConfirmation, snap.Order.Status)
}

func TestOrderRateLimitAndIdempotency(t *testing.T) {
	s := newServer(t, testConfig())

	idem := asSession(map[string]string{"Idempotency-Key": "create-1"})
	rec := s.do(http.MethodPost, "/api/v1/orders/collection", collection("a"), idem)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/orders/collection", collection("a"), idem)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "IDEMPOTENT_REPLAY")

	rec = s.do(http.MethodPost, "/api/v1/orders/collection", collection("b"), asSession(nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/orders/collection", collection("c"), asSession(nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMissingCredentialsKeepServing(t *testing.T) {
	cfg := testConfig()
	cfg.XPayMode = config.ModeLive
	cfg.XPayAPIKey = ""
	s := newServer(t, cfg)

	rec := s.do(http.MethodGet, "/api/v1/sdk", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sdk map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sdk))
	require.Equal(t, false, sdk["initialized"])
	require.Contains(t, sdk["error"], "api key is required")
	require.Equal(t, xpay.DefaultBaseURL, sdk["baseUrl"])

	rec = s.do(http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "api key is required")

	rec = s.do(http.MethodPost, "/api/v1/orders/collection", collection("x"), asSession(nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "SDK not initialized. Please check your API credentials.")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, testConfig())
	s.do(http.MethodGet, "/health/live", nil, nil)

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "xpay_test_http_requests_total"))
}

func TestSymbolsAreCached(t *testing.T) {
	s := newServer(t, testConfig())

	rec := s.do(http.MethodGet, "/api/v1/symbols?chain=tron", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.redis.Exists("xpay:symbols:TRON:*"))

	again := s.do(http.MethodGet, "/api/v1/symbols?chain=TRON", nil, nil)
	require.Equal(t, http.StatusOK, again.Code)
	require.JSONEq(t, rec.Body.String(), again.Body.String())
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xpay-demo/internal/cache"
	"github.com/noah-isme/xpay-demo/internal/config"
	"github.com/noah-isme/xpay-demo/internal/health"
	"github.com/noah-isme/xpay-demo/internal/obs"
	"github.com/noah-isme/xpay-demo/internal/payment"
	"github.com/noah-isme/xpay-demo/internal/poll"
	"github.com/noah-isme/xpay-demo/internal/ratelimit"
	"github.com/noah-isme/xpay-demo/internal/resilience"
	"github.com/noah-isme/xpay-demo/internal/session"
	"github.com/noah-isme/xpay-demo/internal/xpay"
)

// Dependencies holds the services shared by the HTTP server and its
// background loops. The gateway is built once here and injected everywhere.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  clock.Clock

	// Redis is nil when REDIS_URL is unset; replay and idempotency guards
	// are skipped and rate limits fall back to process memory.
	Redis *redis.Client

	Service        *payment.Service
	Sessions       *session.Manager
	GatewayBaseURL string

	OrderLimiter   ratelimit.Limiter
	WebhookLimiter ratelimit.Limiter

	Registerer  prometheus.Registerer
	Gatherer    prometheus.Gatherer
	HTTPMetrics *obs.HTTPMetrics

	ownsRedis bool
}

// Option customises New.
type Option func(*Dependencies)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(d *Dependencies) { d.Clock = clk }
}

// WithRedis supplies an existing client instead of dialing REDIS_URL.
func WithRedis(rdb *redis.Client) Option {
	return func(d *Dependencies) { d.Redis = rdb }
}

// WithRegistry registers metrics on reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *Dependencies) {
		d.Registerer = reg
		d.Gatherer = reg
	}
}

// New wires the application. A gateway that cannot be initialized is not
// fatal: the service reports the error on every gateway operation.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Dependencies, error) {
	d := &Dependencies{
		Config:     cfg,
		Logger:     logger,
		Clock:      clock.New(),
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, d.Registerer)
	if err := resilience.RegisterMetrics(d.Registerer); err != nil {
		return nil, fmt.Errorf("register breaker metrics: %w", err)
	}
	if cfg.MetricsEnabled {
		d.HTTPMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), d.Registerer)
	}

	if d.Redis == nil && cfg.RedisURL != "" {
		rdb, err := dialRedis(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		d.Redis = rdb
		d.ownsRedis = true
	}

	gw, baseURL, initErr := NewGateway(cfg, d.Clock, logger)
	if initErr != nil {
		logger.Error().Err(initErr).Str("mode", cfg.XPayMode).Msg("xpay_sdk_init_failed")
	} else {
		logger.Info().Str("mode", cfg.XPayMode).Str("base_url", baseURL).Msg("xpay_sdk_initialized")
	}
	d.GatewayBaseURL = baseURL
	d.Service = payment.NewService(gw, initErr, logger, d.Clock)
	if d.Redis != nil && cfg.SymbolsCacheTTL > 0 {
		d.Service.UseSymbolCache(cache.NewJSON(d.Redis, "xpay:", cfg.SymbolsCacheTTL))
	}

	poller := poll.Poller{
		Interval: cfg.StatusPollInterval,
		Fetch:    d.Service.Fetch,
		Clock:    d.Clock,
		Logger:   logger.With().Str("component", "poll").Logger(),
	}
	d.Sessions = session.NewManager(poller, d.Clock, logger)

	if d.Redis != nil {
		d.OrderLimiter = ratelimit.SlidingWindow{Client: d.Redis, Prefix: "rl:orders:"}
	} else {
		st, err := ratelimit.NewStore(nil, "rl:orders:")
		if err != nil {
			return nil, err
		}
		d.OrderLimiter = st
	}
	webhookStore, err := ratelimit.NewStore(d.Redis, "rl:webhooks:")
	if err != nil {
		return nil, err
	}
	d.WebhookLimiter = webhookStore

	return d, nil
}

// NewGateway builds the live client or the sandbox according to XPAY_MODE.
// On failure the returned gateway is nil and the error wraps
// xpay.ErrInitialization.
func NewGateway(cfg *config.Config, clk clock.Clock, logger zerolog.Logger) (payment.Gateway, string, error) {
	xcfg := xpay.Config{
		APIKey:              cfg.XPayAPIKey,
		APISecret:           cfg.XPayAPISecret,
		BaseURL:             cfg.XPayBaseURL,
		Timeout:             cfg.XPayTimeout,
		RetryMaxAttempts:    cfg.XPayRetryAttempts,
		RetryBase:           cfg.XPayRetryBase,
		RetryJitter:         cfg.XPayRetryJitter,
		BreakerMinRequests:  cfg.XPayBreakerMinReqs,
		BreakerFailureRatio: cfg.XPayBreakerRatio,
		BreakerOpenFor:      cfg.XPayBreakerOpenFor,
		WebhookTolerance:    cfg.XPayWebhookTolerance,
	}
	if cfg.Sandbox() {
		sb, err := xpay.NewSandbox(xcfg,
			xpay.WithSandboxClock(clk),
			xpay.WithSandboxTTL(cfg.SandboxOrderTTL),
			xpay.WithSandboxLogger(logger),
		)
		if err != nil {
			return nil, "sandbox", err
		}
		return sb, "sandbox", nil
	}
	client, err := xpay.New(xcfg, xpay.WithClock(clk), xpay.WithLogger(logger))
	if err != nil {
		base := cfg.XPayBaseURL
		if base == "" {
			base = xpay.DefaultBaseURL
		}
		return nil, base, err
	}
	return client, client.BaseURL(), nil
}

func dialRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if cfg.TracingEnabled {
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// PingRedis probes Redis for readiness.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return health.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// PingGateway reports the initialization error, or probes the gateway with a
// cheap symbols query.
func (d *Dependencies) PingGateway(ctx context.Context, timeout time.Duration) error {
	if !d.Service.Initialized() {
		return d.Service.InitError()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := d.Service.SupportedSymbols(ctx, "", "")
	return err
}

// RunReaper closes idle sessions every interval until ctx is done.
func (d *Dependencies) RunReaper(ctx context.Context) {
	every := d.Config.SessionReapEvery
	if every <= 0 || d.Config.SessionIdleTTL <= 0 {
		return
	}
	ticker := d.Clock.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.Sessions.Reap(d.Config.SessionIdleTTL); n > 0 {
				d.Logger.Info().Int("reaped", n).Int("live", d.Sessions.Len()).Msg("session_reap")
			}
		}
	}
}

// Close releases every session timer and the Redis client if New dialed it.
func (d *Dependencies) Close() error {
	d.Sessions.Shutdown()
	if d.ownsRedis && d.Redis != nil {
		if err := d.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}

var _ health.Checker = (*Dependencies)(nil)

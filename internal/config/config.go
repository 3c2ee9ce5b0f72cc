package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Gateway modes.
const (
	ModeLive    = "live"
	ModeSandbox = "sandbox"
)

// legacyPrefix is accepted in front of the gateway keys so existing frontend
// .env files keep working.
const legacyPrefix = "REACT_APP_"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	XPayAPIKey           string
	XPayAPISecret        string
	XPayBaseURL          string
	XPayMode             string
	XPayTimeout          time.Duration
	XPayRetryAttempts    int
	XPayRetryBase        time.Duration
	XPayRetryJitter      float64
	XPayBreakerMinReqs   int
	XPayBreakerRatio     float64
	XPayBreakerOpenFor   time.Duration
	XPayWebhookTolerance time.Duration
	SandboxOrderTTL      time.Duration

	StatusPollInterval time.Duration
	SessionIdleTTL     time.Duration
	SessionReapEvery   time.Duration

	RedisURL         string
	WebhookReplayTTL time.Duration
	IdempotencyTTL   time.Duration
	SymbolsCacheTTL  time.Duration

	RateLimitOrdersPerMin   int
	RateLimitWebhooksPerMin int

	CORSAllowedOrigins []string
	CookieSecure       bool
	CSRFEnabled        bool
	SecurityHeaders    bool
	HSTSEnabled        bool
	MaxBodyBytes       int64

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64
	MetricsBuckets   string
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
	ShutdownTimeout  time.Duration
}

// Load reads configuration from environment variables and optional .env files.
// Missing gateway credentials are not an error here; they surface as the
// gateway initialization error at startup.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	gw := func(key string) string {
		if v := strings.TrimSpace(k.String(key)); v != "" {
			return v
		}
		return strings.TrimSpace(k.String(legacyPrefix + key))
	}

	cfg := &Config{
		AppEnv: valueOrDefault(k.String("APP_ENV"), "development"),
		Port:   valueOrDefault(k.String("PORT"), "8080"),

		XPayAPIKey:           gw("XPAY_API_KEY"),
		XPayAPISecret:        gw("XPAY_API_SECRET"),
		XPayBaseURL:          gw("XPAY_BASE_URL"),
		XPayMode:             strings.ToLower(valueOrDefault(k.String("XPAY_MODE"), ModeLive)),
		XPayTimeout:          parseDuration(k.String("XPAY_HTTP_TIMEOUT"), "10s"),
		XPayRetryAttempts:    parseInt(k.String("XPAY_RETRY_MAX_ATTEMPTS"), 3),
		XPayRetryBase:        parseDuration(k.String("XPAY_RETRY_BASE"), "200ms"),
		XPayRetryJitter:      parseFloat(k.String("XPAY_RETRY_JITTER"), 0.2),
		XPayBreakerMinReqs:   parseInt(k.String("XPAY_BREAKER_MIN_REQUESTS"), 5),
		XPayBreakerRatio:     parseFloat(k.String("XPAY_BREAKER_FAILURE_RATIO"), 0.5),
		XPayBreakerOpenFor:   parseDuration(k.String("XPAY_BREAKER_OPEN_FOR"), "30s"),
		XPayWebhookTolerance: parseDuration(k.String("XPAY_WEBHOOK_TOLERANCE"), "0s"),
		SandboxOrderTTL:      parseDuration(k.String("XPAY_SANDBOX_ORDER_TTL"), "30m"),

		StatusPollInterval: parseDuration(k.String("STATUS_POLL_INTERVAL"), "10s"),
		SessionIdleTTL:     parseDuration(k.String("SESSION_IDLE_TTL"), "30m"),
		SessionReapEvery:   parseDuration(k.String("SESSION_REAP_INTERVAL"), "1m"),

		RedisURL:         strings.TrimSpace(k.String("REDIS_URL")),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		SymbolsCacheTTL:  parseDuration(k.String("SYMBOLS_CACHE_TTL"), "5m"),

		RateLimitOrdersPerMin:   parseInt(k.String("RATE_LIMIT_ORDERS_PER_MIN"), 30),
		RateLimitWebhooksPerMin: parseInt(k.String("RATE_LIMIT_WEBHOOKS_PER_MIN"), 300),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CookieSecure:       parseBool(k.String("COOKIE_SECURE"), false),
		CSRFEnabled:        parseBool(k.String("SECURITY_ENABLE_CSRF"), false),
		SecurityHeaders:    parseBool(k.String("SECURITY_ENABLE_HEADERS"), true),
		HSTSEnabled:        parseBool(k.String("SECURITY_ENABLE_HSTS"), false),
		MaxBodyBytes:       int64(parseInt(k.String("SECURITY_MAX_BODY_BYTES"), 1<<20)),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "xpay"),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		MetricsBuckets:   strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
		PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
		ShutdownTimeout:  parseDuration(k.String("SHUTDOWN_TIMEOUT"), "10s"),
	}

	switch cfg.XPayMode {
	case ModeLive, ModeSandbox:
	default:
		return nil, fmt.Errorf("XPAY_MODE must be %q or %q, got %q", ModeLive, ModeSandbox, cfg.XPayMode)
	}
	if cfg.StatusPollInterval <= 0 {
		return nil, errors.New("STATUS_POLL_INTERVAL must be positive")
	}
	if cfg.XPayBreakerRatio <= 0 || cfg.XPayBreakerRatio > 1 {
		return nil, errors.New("XPAY_BREAKER_FAILURE_RATIO must be in (0, 1]")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// Sandbox reports whether the in-process gateway should be used.
func (c *Config) Sandbox() bool { return c.XPayMode == ModeSandbox }

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

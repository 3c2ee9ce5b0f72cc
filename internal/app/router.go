package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/xpay-demo/internal/common"
	"github.com/noah-isme/xpay-demo/internal/health"
	"github.com/noah-isme/xpay-demo/internal/obs"
	"github.com/noah-isme/xpay-demo/internal/payment"
	"github.com/noah-isme/xpay-demo/internal/ratelimit"
	"github.com/noah-isme/xpay-demo/internal/security"
	"github.com/noah-isme/xpay-demo/internal/session"
)

// NewRouter mounts every endpoint on a chi router.
func NewRouter(d *Dependencies) http.Handler {
	cfg := d.Config
	logger := d.Logger

	orders := &payment.Handler{
		Svc:      d.Service,
		Sessions: d.Sessions,
		Clock:    d.Clock,
		Logger:   logger,
		Mode:     cfg.XPayMode,
		BaseURL:  d.GatewayBaseURL,
	}
	webhook := payment.Webhook{
		Svc:       d.Service,
		Sessions:  d.Sessions,
		Replay:    d.Redis,
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    logger.With().Str("component", "webhook").Logger(),
	}
	demo := payment.DemoHandler{Svc: d.Service}
	sessions := &session.Handler{
		Sessions:       d.Sessions,
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}
	healthHandler := health.Handler{Checker: d}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	orderLimit := ratelimit.Handler{
		Limiter: d.OrderLimiter,
		Config:  ratelimit.Config{Name: "orders", Key: ratelimit.BySession("orders:"), Window: time.Minute, Max: cfg.RateLimitOrdersPerMin},
	}
	webhookLimit := ratelimit.Handler{
		Limiter: d.WebhookLimiter,
		Config:  ratelimit.Config{Name: "webhooks", Key: ratelimit.ByIP("webhooks:"), Window: time.Minute, Max: cfg.RateLimitWebhooksPerMin},
	}
	csrf := func(next http.Handler) http.Handler { return next }
	if cfg.CSRFEnabled {
		csrf = security.CSRF{SessionHeader: session.HeaderName}.Middleware
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	// The session id must be on the context before the request logger runs.
	r.Use(apiOnly(session.Middleware{Secure: cfg.CookieSecure}.Handler))
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token", session.HeaderName, common.IdempotencyHeader},
		ExposedHeaders:   []string{session.HeaderName, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.HSTSEnabled}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/sdk", orders.SDK)
		v.Get("/symbols", orders.Symbols)
		v.Get("/orders/{orderId}/status", orders.Status)

		v.Get("/session", sessions.Get)
		v.Get("/session/qr.png", sessions.QR)
		v.Get("/session/stream", sessions.Stream)

		v.Get("/webhooks/sample", demo.Sample)
		v.With(webhookLimit.Middleware).Post("/webhooks/xpay", webhook.Handle)

		v.Group(func(w chi.Router) {
			w.Use(csrf)
			w.Post("/orders/ids", orders.GenerateID)
			w.Delete("/session", sessions.Delete)
			w.Post("/webhooks/verify", demo.Verify)
			w.Post("/sandbox/orders/{orderId}/status", orders.ForceStatus)
			w.Group(func(g chi.Router) {
				g.Use(orderLimit.Middleware)
				g.Use(idem.Middleware)
				g.Post("/orders/collection", orders.CreateCollection)
				g.Post("/orders/payout", orders.CreatePayout)
			})
		})
	})

	return r
}

func apiOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

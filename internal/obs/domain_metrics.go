package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// GatewayRequestsTotal counts calls to the payment gateway by operation and outcome.
	GatewayRequestsTotal *prometheus.CounterVec
	// GatewayRequestLatency records gateway call latency in milliseconds.
	GatewayRequestLatency *prometheus.HistogramVec
	// OrdersCreatedTotal counts order submissions by order type and outcome.
	OrdersCreatedTotal *prometheus.CounterVec
	// StatusPollTotal counts status poll fetch outcomes.
	StatusPollTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// ActiveSessions tracks sessions currently displaying an order.
	ActiveSessions prometheus.Gauge
	// RateLimitedTotal counts requests rejected by a named rate limit.
	RateLimitedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics builds the payment collectors on first use, with
// the namespace given then, and registers them on reg. The same collectors
// may be registered on several registries.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	domainOnce.Do(func() { newDomainMetrics(namespace) })

	mustRegister(reg, GatewayRequestsTotal)
	mustRegister(reg, GatewayRequestLatency)
	mustRegister(reg, OrdersCreatedTotal)
	mustRegister(reg, StatusPollTotal)
	mustRegister(reg, PaymentWebhookTotal)
	mustRegister(reg, ActiveSessions)
	mustRegister(reg, RateLimitedTotal)
}

func newDomainMetrics(namespace string) {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	GatewayRequestsTotal = counter("gateway_requests_total", "Payment gateway calls by operation and result.", "op", "result")
	GatewayRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_ms",
		Help:      "Payment gateway call latency in milliseconds.",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"op"})
	OrdersCreatedTotal = counter("orders_created_total", "Order submissions by type and result.", "type", "result")
	StatusPollTotal = counter("status_poll_total", "Order status poll fetches by result.", "result")
	PaymentWebhookTotal = counter("payment_webhook_total", "Processed payment webhooks by outcome.", "result")
	RateLimitedTotal = counter("rate_limited_total", "Requests rejected by a named rate limit.", "limit")
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Live demo sessions.",
	})
}

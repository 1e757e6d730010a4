package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Write outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

var (
	// Snapshots counts full snapshots delivered to subscribers.
	Snapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyband_snapshots_total",
		Help: "Full collection snapshots delivered to subscribers.",
	}, []string{"collection"})

	// SubscriptionErrors counts transport or permission failures on a subscription.
	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyband_subscription_errors_total",
		Help: "Errors surfaced on collection subscriptions.",
	}, []string{"collection"})

	// Writes counts remote record writes by outcome.
	Writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyband_writes_total",
		Help: "Partial record writes issued against the remote store.",
	}, []string{"outcome"})

	// Telemetry counts device readings by outcome.
	Telemetry = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyband_telemetry_total",
		Help: "Device telemetry readings processed by the worker.",
	}, []string{"outcome"})

	// Alerts counts alerts raised from telemetry, by type.
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyband_alerts_total",
		Help: "Alerts raised from device telemetry.",
	}, []string{"type"})

	// RateLimited counts requests rejected by the HTTP rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buddyband_rate_limited_total",
		Help: "HTTP requests rejected by the rate limiter.",
	})

	// Engines tracks live per-supervisor dashboard engines.
	Engines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "buddyband_engines",
		Help: "Running per-supervisor dashboard engines.",
	})
)

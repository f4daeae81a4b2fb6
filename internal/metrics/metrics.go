// ABOUTME: Prometheus collectors for gateway traffic and runtime health.
// ABOUTME: Registered via promauto; exposed at the configured metrics path.

// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts inbound messages by channel and outcome.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flint_messages_total",
			Help: "Inbound messages handled by the gateway",
		},
		[]string{"channel", "outcome"},
	)

	// TurnDuration tracks agent turn duration by provider and status.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flint_turn_duration_seconds",
			Help:    "Agent turn duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"provider", "status"},
	)

	// ActiveRuntimes tracks live agent runtimes.
	ActiveRuntimes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flint_active_runtimes",
			Help: "Number of live agent runtimes",
		},
	)

	// SSEConnections tracks active event-stream responses.
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flint_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// WebhookEventsTotal counts adapter webhook deliveries by outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flint_webhook_events_total",
			Help: "Webhook events received per adapter",
		},
		[]string{"adapter", "outcome"},
	)
)

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain counters exposed on /metrics.
var (
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grandpay_token_refreshes_total",
		Help: "OAuth2 token exchanges, by outcome.",
	}, []string{"outcome"})

	NotificationsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grandpay_notifications_received_total",
		Help: "Inbound payment notifications, by channel and result.",
	}, []string{"channel", "result"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grandpay_order_transitions_total",
		Help: "Order payment-state transitions actually applied.",
	}, []string{"to"})

	DuplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grandpay_duplicate_deliveries_total",
		Help: "Notifications absorbed because the order was already terminal.",
	})
)

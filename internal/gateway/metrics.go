package gateway

import "github.com/prometheus/client_golang/prometheus"

// Gateway-level collectors, complementing the HTTP middleware metrics. Label
// cardinality is bounded: direction/status come from closed enums.
var (
	sessionsRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_registered",
		Help: "Number of session connection handles currently registered.",
	})

	reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_reconnect_attempts_total",
		Help: "Total transport redial attempts across all sessions.",
	})

	relayedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_messages_total",
		Help: "Messages relayed through the gateway.",
	}, []string{"direction", "status"})

	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	pairingTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_pairing_timeouts_total",
		Help: "Session creations that exceeded the pairing deadline.",
	})
)

func init() {
	prometheus.MustRegister(sessionsRegistered, reconnectAttempts, relayedMessages, webhookDeliveries, pairingTimeouts)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supporthub_messages_routed_total",
			Help: "Messages routed by outcome",
		},
		[]string{"outcome"}, // "delivered", "stored", "failed"
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supporthub_role_broadcasts_total",
			Help: "Role fan-out broadcasts",
		},
	)

	TypingSignals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supporthub_typing_signals_total",
			Help: "Typing signals relayed after throttling",
		},
	)

	ConnectedPrincipals = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supporthub_connected_principals",
			Help: "Currently connected principals by role",
		},
		[]string{"role"},
	)

	PushLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supporthub_push_latency_seconds",
			Help:    "Transport push latency for live deliveries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)
)

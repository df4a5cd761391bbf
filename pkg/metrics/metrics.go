package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collabnotes"

var (
	BroadcastsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "broadcasts_total", Help: "Broadcasts routed by event kind and audience scope."},
		[]string{"event", "scope"},
	)
	BroadcastsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_dropped_total", Help: "Deliveries dropped by reason."},
		[]string{"reason"},
	)
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "ws_connections", Help: "Currently registered WebSocket connections."},
	)
	PresenceRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "presence_rooms", Help: "Rooms with at least one subscriber."},
	)
	NoteMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "note_mutations_total", Help: "Note mutations by operation and outcome."},
		[]string{"op", "outcome"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		BroadcastsSent,
		BroadcastsDropped,
		ActiveConnections,
		PresenceRooms,
		NoteMutations,
		RateLimitAllowed,
		RateLimitRejected,
	)
}

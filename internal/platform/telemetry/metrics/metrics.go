package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codecollab"

var (
	// Admissions counts handshake outcomes; result is "admitted" or the
	// refusal code.
	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Connection admission attempts by result",
		},
		[]string{"result"},
	)

	// RoomsOpen tracks rooms with at least one member.
	RoomsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_open",
			Help:      "Rooms currently holding at least one member",
		},
	)

	// ConnectionsActive tracks admitted connections joined to a room.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Admitted connections currently joined to a room",
		},
	)

	// EventsRelayed counts room deliveries queued, labeled by event type.
	EventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Events queued for delivery to room members by event type",
		},
		[]string{"type"},
	)

	// DeliveriesDropped counts events a member never received.
	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Deliveries dropped because a member queue was full or closed",
		},
	)

	// AssistantInvocations counts assistant requests by outcome.
	AssistantInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_invocations_total",
			Help:      "Assistant invocations by outcome",
		},
		[]string{"outcome"},
	)

	// AssistantLatency observes generation call duration in seconds.
	AssistantLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assistant_latency_seconds",
			Help:      "Generation call latency",
			Buckets:   []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// FileSaves counts file tree saves; outcome is "saved" or "rejected".
	FileSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_saves_total",
			Help:      "File tree saves by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonMalformed   = "malformed"
	reasonStoreError  = "store_error"
	reasonRateLimited = "rate_limited"
	reasonPanic       = "panic"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Live websocket sessions registered with the hub",
	})

	onlineIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_identities",
		Help: "Distinct identities in the last broadcast presence list",
	})

	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_received_total",
		Help: "Inbound socket events by type",
	}, []string{"type"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_dropped_total",
		Help: "Inbound events dropped without fan-out, by reason",
	}, []string{"reason"})

	fanoutDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_fanout_deliveries_total",
		Help: "Frames queued to session send buffers",
	})

	slowConsumersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_slow_consumers_evicted_total",
		Help: "Sessions disconnected because their send buffer was full",
	})

	storeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_store_duration_seconds",
		Help:    "Message store call latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"op"})
)

// Package metrics defines the Prometheus instrumentation for the chat
// core. All collectors register on the default registry and are served
// by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatsCreated counts direct chats created by the resolver.
	ChatsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_chats_created_total",
		Help: "Direct chats created.",
	})

	// MessagesAppended counts messages durably committed.
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_appended_total",
		Help: "Messages committed to the store.",
	})

	// FanoutDelivered counts per-subscriber deliveries of committed messages.
	FanoutDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_fanout_delivered_total",
		Help: "Message payloads enqueued to room subscribers.",
	})

	// FanoutDropped counts per-subscriber deliveries dropped under
	// backpressure or because the client was shutting down.
	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_fanout_dropped_total",
		Help: "Message payloads dropped instead of delivered.",
	})

	// OpenSessions tracks live websocket sessions.
	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_ws_sessions_open",
		Help: "Open websocket sessions.",
	})

	// RoomSubscriptions tracks live (chat, session) subscriptions.
	RoomSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_room_subscriptions",
		Help: "Live room subscriptions across all chats.",
	})
)

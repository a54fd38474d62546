// Package metrics provides Prometheus metrics collection for the support chat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks the current number of live WebSocket connections
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_websocket_connections",
		Help: "Current number of live WebSocket connections",
	})

	// EventsReceived counts inbound gateway events by type
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_events_received_total",
		Help: "Total number of inbound events by type",
	}, []string{"type"})

	// FramesSent counts outbound frames accepted into a connection buffer
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_frames_sent_total",
		Help: "Total number of frames queued to clients",
	})

	// FramesDropped counts outbound frames dropped because a handle was full or closing
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_frames_dropped_total",
		Help: "Total number of frames dropped on full or closing connections",
	})

	// WaitingRooms tracks rooms currently in the waiting queue
	WaitingRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_waiting_rooms",
		Help: "Current number of rooms waiting for an agent",
	})

	// ActiveRooms tracks rooms currently claimed by an agent
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_active_rooms",
		Help: "Current number of rooms with an assigned agent",
	})

	// RoomsCreated counts chat requests accepted into the queue
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_rooms_created_total",
		Help: "Total number of rooms created",
	})

	// RoomsClaimed counts successful claims
	RoomsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_rooms_claimed_total",
		Help: "Total number of rooms claimed by an agent",
	})

	// RoomsTransferred counts agent reassignments
	RoomsTransferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_rooms_transferred_total",
		Help: "Total number of rooms transferred between agents",
	})

	// RoomsClosed counts rooms closed, labelled by the state they were closed from
	RoomsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_rooms_closed_total",
		Help: "Total number of rooms closed by previous state",
	}, []string{"from"})

	// RoomsPurged counts closed rooms evicted from memory
	RoomsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_rooms_purged_total",
		Help: "Total number of closed rooms evicted after the grace period",
	})

	// ClaimConflicts counts claim attempts that lost the race
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_claim_conflicts_total",
		Help: "Total number of claims rejected because the room was already claimed",
	})

	// MessagesAppended counts chat messages appended to room logs
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_messages_appended_total",
		Help: "Total number of chat messages appended",
	})

	// EventErrors counts error frames returned to clients, by code
	EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_event_errors_total",
		Help: "Total number of error frames by code",
	}, []string{"code"})

	// PanicsRecovered counts panics recovered by component
	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_panics_recovered_total",
		Help: "Total number of recovered panics by component",
	}, []string{"component"})

	// ArchiveWrites counts archive attempts by result (success, failure, dropped)
	ArchiveWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_archive_writes_total",
		Help: "Total number of room archive writes by result",
	}, []string{"result"})

	// RelayPublishes counts Redis relay publishes by result (success, failure, dropped)
	RelayPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_relay_publishes_total",
		Help: "Total number of relay publishes by result",
	}, []string{"result"})

	// NotificationsSent counts alert emails by result (success, failure, suppressed)
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_notifications_total",
		Help: "Total number of staff alert emails by result",
	}, []string{"result"})

	// MongoOperationDuration tracks MongoDB call latency by operation
	MongoOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportchat_mongodb_operation_duration_seconds",
		Help:    "MongoDB operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// HTTPRequestDuration tracks HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportchat_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := map[string]prometheus.Collector{
		"WebSocketConnections":   WebSocketConnections,
		"EventsReceived":         EventsReceived,
		"FramesSent":             FramesSent,
		"FramesDropped":          FramesDropped,
		"WaitingRooms":           WaitingRooms,
		"ActiveRooms":            ActiveRooms,
		"RoomsCreated":           RoomsCreated,
		"RoomsClaimed":           RoomsClaimed,
		"RoomsTransferred":       RoomsTransferred,
		"RoomsClosed":            RoomsClosed,
		"RoomsPurged":            RoomsPurged,
		"ClaimConflicts":         ClaimConflicts,
		"MessagesAppended":       MessagesAppended,
		"EventErrors":            EventErrors,
		"PanicsRecovered":        PanicsRecovered,
		"ArchiveWrites":          ArchiveWrites,
		"RelayPublishes":         RelayPublishes,
		"NotificationsSent":      NotificationsSent,
		"HTTPRequestDuration":    HTTPRequestDuration,
		"MongoOperationDuration": MongoOperationDuration,
	}
	for name, c := range collectors {
		assert.NotNil(t, c, name)
	}
}

func TestGaugeMovesBothWays(t *testing.T) {
	before := testutil.ToFloat64(WaitingRooms)
	WaitingRooms.Inc()
	WaitingRooms.Inc()
	WaitingRooms.Dec()
	assert.Equal(t, before+1, testutil.ToFloat64(WaitingRooms))
	WaitingRooms.Dec()
}

func TestLabelledCounters(t *testing.T) {
	before := testutil.ToFloat64(RoomsClosed.WithLabelValues("waiting"))
	RoomsClosed.WithLabelValues("waiting").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RoomsClosed.WithLabelValues("waiting")))

	before = testutil.ToFloat64(EventErrors.WithLabelValues("ROOM_CLOSED"))
	EventErrors.WithLabelValues("ROOM_CLOSED").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(EventErrors.WithLabelValues("ROOM_CLOSED")))
}

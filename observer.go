package supportchat

import (
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/session"
)

// observeRooms keeps the room gauges and counters in step with the store's
// events and returns the function that detaches it
func observeRooms(bus *events.Bus) func() {
	unsubscribe := []func(){
		events.Subscribe(bus, func(session.RoomCreated) {
			metrics.RoomsCreated.Inc()
			metrics.WaitingRooms.Inc()
		}),
		events.Subscribe(bus, func(session.RoomClaimed) {
			metrics.RoomsClaimed.Inc()
			metrics.WaitingRooms.Dec()
			metrics.ActiveRooms.Inc()
		}),
		events.Subscribe(bus, func(session.RoomTransferred) {
			metrics.RoomsTransferred.Inc()
		}),
		events.Subscribe(bus, func(session.MessageAppended) {
			metrics.MessagesAppended.Inc()
		}),
		events.Subscribe(bus, func(e session.RoomClosed) {
			metrics.RoomsClosed.WithLabelValues(string(e.PreviousState)).Inc()
			switch e.PreviousState {
			case session.StateWaiting:
				metrics.WaitingRooms.Dec()
			case session.StateActive:
				metrics.ActiveRooms.Dec()
			}
		}),
		events.Subscribe(bus, func(session.RoomPurged) {
			metrics.RoomsPurged.Inc()
		}),
	}
	return func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}
}

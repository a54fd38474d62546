package router

import (
	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
)

// Connected pushes the state a freshly connected client needs, without the
// client asking: customers get their open room, agents the queue and the
// rooms they serve, admins the queue and every active room. Rooms come with
// their full history.
//
// The client must already be registered, so a message appended while the
// replay is assembled can arrive both live and inside the replay. Clients
// drop messages whose id they have already seen.
func (r *EventRouter) Connected(client registry.Handle) {
	identity := client.Identity()
	switch identity.Role {
	case auth.RoleCustomer:
		r.replayOpenRoom(client, identity.ParticipantID)
	case auth.RoleAgent:
		r.replayRooms(client, message.TypeExistingWaitingChats, r.store.ListWaiting())
		r.replayRooms(client, message.TypeExistingActiveChats, r.store.ActiveFor(identity.ParticipantID))
	case auth.RoleAdmin:
		r.replayRooms(client, message.TypeExistingWaitingChats, r.store.ListWaiting())
		r.replayRooms(client, message.TypeExistingActiveChats, r.store.ListActive())
	}
}

// replayOpenRoom sends a customer's open room to client, reporting whether there was one
func (r *EventRouter) replayOpenRoom(client registry.Handle, customerID string) bool {
	room, ok := r.store.OpenRoomFor(customerID)
	if !ok {
		return false
	}
	eventType := message.TypeExistingWaitingChats
	if room.State == session.StateActive {
		eventType = message.TypeExistingActiveChats
	}
	return r.replayRooms(client, eventType, []session.RoomView{room}) > 0
}

// replayRooms sends rooms visible to client, with history, as one frame and
// returns how many rooms it carried. Staff always get the frame, even empty,
// so their lists can reset.
func (r *EventRouter) replayRooms(client registry.Handle, eventType message.EventType, rooms []session.RoomView) int {
	identity := client.Identity()
	payload := message.ExistingChatsPayload{Rooms: make([]message.RoomHistoryPayload, 0, len(rooms))}
	for _, listed := range rooms {
		if !VisibleTo(identity, listed) {
			continue
		}
		room, history, err := r.store.Snapshot(listed.ID)
		if err != nil || !room.State.Open() {
			continue
		}
		payload.Rooms = append(payload.Rooms, toRoomHistory(room, history))
	}

	if len(payload.Rooms) == 0 && !identity.Role.IsStaff() {
		return 0
	}
	r.send([]registry.Handle{client}, eventType, payload)
	return len(payload.Rooms)
}

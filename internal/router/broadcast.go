package router

import (
	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
)

// subscribe attaches the broadcaster to the Room Store's events. Handlers run
// under the room's lock, which is what keeps per-connection delivery in log
// order; they only encode and queue frames.
func (r *EventRouter) subscribe(bus *events.Bus) {
	r.unsubscribe = append(r.unsubscribe,
		events.Subscribe(bus, r.onRoomCreated),
		events.Subscribe(bus, r.onRoomClaimed),
		events.Subscribe(bus, r.onRoomTransferred),
		events.Subscribe(bus, r.onMessageAppended),
		events.Subscribe(bus, r.onRoomClosed),
	)
}

// onRoomCreated announces a queued room to staff
func (r *EventRouter) onRoomCreated(e session.RoomCreated) {
	r.send(r.staffHandles(e.Room, ""), message.TypeNewChatRequest, toRoomPayload(e.Room))
}

// onRoomClaimed tells the customer and the claimant that the room is served,
// and every other staff member that it is gone from the queue
func (r *EventRouter) onRoomClaimed(e session.RoomClaimed) {
	room := toRoomPayload(e.Room)
	customer := r.conns.HandlesFor(e.Room.CustomerID)
	claimant := r.conns.HandlesFor(e.Room.AgentID)

	r.send(append(customer, claimant...), message.TypeChatAccepted, room)
	r.send(customer, message.TypeAgentJoined, message.AgentJoinedPayload{
		RoomID:    e.Room.ID,
		AgentID:   e.Room.AgentID,
		AgentName: e.Room.AgentName,
	})
	r.send(r.staffHandles(e.Room, e.Room.AgentID), message.TypeChatTaken, message.ChatTakenPayload{
		RoomID:    e.Room.ID,
		AgentID:   e.Room.AgentID,
		AgentName: e.Room.AgentName,
	})
}

// onRoomTransferred tells everyone involved who serves the room now. The new
// agent also receives the room with its history.
func (r *EventRouter) onRoomTransferred(e session.RoomTransferred) {
	joined := message.AgentJoinedPayload{
		RoomID:          e.Room.ID,
		AgentID:         e.Room.AgentID,
		AgentName:       e.Room.AgentName,
		PreviousAgentID: e.PreviousAgentID,
	}
	r.send(r.handlesOf(e.Room.CustomerID, e.Room.AgentID, e.PreviousAgentID), message.TypeAgentJoined, joined)
	r.send(r.conns.HandlesFor(e.Room.AgentID), message.TypeExistingActiveChats, message.ExistingChatsPayload{
		Rooms: []message.RoomHistoryPayload{toRoomHistory(e.Room, e.Messages)},
	})
}

// onMessageAppended delivers a message to both participants, and to the
// sender's other connections when the sender is an observing admin
func (r *EventRouter) onMessageAppended(e session.MessageAppended) {
	recipients := []string{e.Room.CustomerID, e.Room.AgentID}
	if !e.Room.HasParticipant(e.Message.SenderID) {
		recipients = append(recipients, e.Message.SenderID)
	}
	r.send(r.handlesOf(recipients...), message.TypeNewMessage, toMessagePayload(e.Message))
}

// onRoomClosed tells the participants the room is closed. A room closed while
// still queued is also retracted from every staff queue.
func (r *EventRouter) onRoomClosed(e session.RoomClosed) {
	payload := message.ChatClosedPayload{
		RoomID:        e.Room.ID,
		ClosedBy:      e.Room.ClosedBy,
		PreviousState: string(e.PreviousState),
		ClosedAt:      e.Room.ClosedAt,
	}

	recipients := []string{e.Room.CustomerID, e.Room.AgentID}
	if !e.Room.HasParticipant(e.Room.ClosedBy) {
		recipients = append(recipients, e.Room.ClosedBy)
	}
	handles := r.handlesOf(recipients...)
	if e.PreviousState == session.StateWaiting {
		handles = append(handles, r.staffHandles(e.Room, recipients...)...)
	}
	r.send(handles, message.TypeChatClosed, payload)
}

// handlesOf returns the handles of the given participants, skipping empty and repeated ids
func (r *EventRouter) handlesOf(participantIDs ...string) []registry.Handle {
	var handles []registry.Handle
	seen := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		handles = append(handles, r.conns.HandlesFor(id)...)
	}
	return handles
}

// staffHandles returns the handles of staff who can see room, except those of the excluded participants
func (r *EventRouter) staffHandles(room session.RoomView, exclude ...string) []registry.Handle {
	var handles []registry.Handle
	for _, h := range r.conns.AllAgentHandles() {
		identity := h.Identity()
		if isExcluded(identity, exclude) || !VisibleTo(identity, room) {
			continue
		}
		handles = append(handles, h)
	}
	return handles
}

func isExcluded(identity auth.Identity, exclude []string) bool {
	for _, id := range exclude {
		if id != "" && id == identity.ParticipantID {
			return true
		}
	}
	return false
}

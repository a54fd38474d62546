package router

import (
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/session"
)

func toRoomPayload(v session.RoomView) message.RoomPayload {
	p := message.RoomPayload{
		RoomID:         v.ID,
		CustomerID:     v.CustomerID,
		CustomerName:   v.CustomerName,
		IsGuest:        v.IsGuest,
		AgentID:        v.AgentID,
		AgentName:      v.AgentName,
		Department:     v.Department,
		OrganizationID: v.OrganizationID,
		State:          string(v.State),
		CreatedAt:      v.CreatedAt,
		LastActivityAt: v.LastActivityAt,
		ClosedBy:       v.ClosedBy,
	}
	if !v.ClosedAt.IsZero() {
		closedAt := v.ClosedAt
		p.ClosedAt = &closedAt
	}
	return p
}

func toMessagePayload(m session.Message) message.ChatMessagePayload {
	return message.ChatMessagePayload{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderRole: string(m.SenderRole),
		SenderName: m.SenderName,
		Body:       m.Body,
		Timestamp:  m.Timestamp,
	}
}

func toRoomHistory(v session.RoomView, history []session.Message) message.RoomHistoryPayload {
	msgs := make([]message.ChatMessagePayload, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, toMessagePayload(m))
	}
	return message.RoomHistoryPayload{RoomPayload: toRoomPayload(v), Messages: msgs}
}

// RoomPayload exposes the wire form of a room for the HTTP admin surface
func RoomPayload(v session.RoomView) message.RoomPayload {
	return toRoomPayload(v)
}

// RoomHistory exposes the wire form of a room with history for the HTTP admin surface
func RoomHistory(v session.RoomView, history []session.Message) message.RoomHistoryPayload {
	return toRoomHistory(v, history)
}

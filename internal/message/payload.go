package message

import "time"

// RoomPayload describes a room to clients
type RoomPayload struct {
	RoomID         string     `json:"roomId"`
	CustomerID     string     `json:"customerId"`
	CustomerName   string     `json:"customerName,omitempty"`
	IsGuest        bool       `json:"isGuest"`
	AgentID        string     `json:"agentId,omitempty"`
	AgentName      string     `json:"agentName,omitempty"`
	Department     string     `json:"department,omitempty"`
	OrganizationID string     `json:"organizationId,omitempty"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	ClosedBy       string     `json:"closedBy,omitempty"`
}

// ChatMessagePayload is one entry of a room's message log
type ChatMessagePayload struct {
	ID         int64     `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderRole string    `json:"senderRole"`
	SenderName string    `json:"senderName,omitempty"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoomHistoryPayload is a room together with its message history
type RoomHistoryPayload struct {
	RoomPayload
	Messages []ChatMessagePayload `json:"messages"`
}

// ExistingChatsPayload is the data of existing_waiting_chats and existing_active_chats
type ExistingChatsPayload struct {
	Rooms []RoomHistoryPayload `json:"rooms"`
}

// ChatTakenPayload tells staff that a queued room is no longer available
type ChatTakenPayload struct {
	RoomID    string `json:"roomId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName,omitempty"`
}

// AgentJoinedPayload announces the agent now serving a room
type AgentJoinedPayload struct {
	RoomID          string `json:"roomId"`
	AgentID         string `json:"agentId"`
	AgentName       string `json:"agentName,omitempty"`
	PreviousAgentID string `json:"previousAgentId,omitempty"`
}

// TypingPayload is the data of user_typing and user_stop_typing
type TypingPayload struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	Name          string `json:"name,omitempty"`
}

// ChatClosedPayload is the data of chat_closed
type ChatClosedPayload struct {
	RoomID        string    `json:"roomId"`
	ClosedBy      string    `json:"closedBy"`
	PreviousState string    `json:"previousState"`
	ClosedAt      time.Time `json:"closedAt"`
}

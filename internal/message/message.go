// Package message defines the WebSocket wire protocol: the frame envelope,
// event names, and the payload carried by each event.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a frame on the wire
type EventType string

// Inbound events, sent by clients
const (
	TypeNewChatRequest EventType = "new_chat_request"
	TypeAcceptChat     EventType = "accept_chat"
	TypeSendMessage    EventType = "send_message"
	TypeTyping         EventType = "typing"
	TypeStopTyping     EventType = "stop_typing"
	TypeCloseChat      EventType = "close_chat"
	TypeTransferChat   EventType = "transfer_chat"
)

// Outbound events, sent by the server. new_chat_request is reused outbound to
// announce a queued room to staff.
const (
	TypeExistingWaitingChats EventType = "existing_waiting_chats"
	TypeExistingActiveChats  EventType = "existing_active_chats"
	TypeChatAccepted         EventType = "chat_accepted"
	TypeAgentJoined          EventType = "agent_joined"
	TypeNewMessage           EventType = "new_message"
	TypeUserTyping           EventType = "user_typing"
	TypeUserStopTyping       EventType = "user_stop_typing"
	TypeChatClosed           EventType = "chat_closed"
	TypeChatTaken            EventType = "chat_taken"
	TypeError                EventType = "error"
)

// ErrorInfo is the error object of an error frame
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryAfter  int    `json:"retry_after,omitempty"` // milliseconds
}

// Envelope is one WebSocket frame. Data holds the event payload and is decoded
// by the gateway according to Type.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON renders the timestamp as RFC3339
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type Alias Envelope
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(e),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON accepts a missing timestamp; clients are not required to send one.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type Alias Envelope
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return err
		}
		e.Timestamp = t
	}

	return nil
}

// NewEnvelope builds an outbound frame with payload encoded into Data.
func NewEnvelope(eventType EventType, payload any) (*Envelope, error) {
	env := &Envelope{Type: eventType, Timestamp: time.Now()}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env.Data = data
	return env, nil
}

// NewErrorEnvelope builds an error frame
func NewErrorEnvelope(info *ErrorInfo) *Envelope {
	return &Envelope{Type: TypeError, Error: info, Timestamp: time.Now()}
}

// Encode marshals an outbound frame
func Encode(eventType EventType, payload any) ([]byte, error) {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

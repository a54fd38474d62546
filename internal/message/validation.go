package message

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/real-rm/supportchat/internal/constants"
)

// ValidationError reports a bad field of an inbound payload
type ValidationError struct {
	Field   string
	Message string
	Missing bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func missing(field string) error {
	return &ValidationError{Field: field, Message: field + " is required", Missing: true}
}

func tooLong(field string, max int) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("%s exceeds maximum length of %d characters", field, max),
	}
}

// Inbound is implemented by pointers to every inbound payload type
type Inbound interface {
	Sanitize()
	Validate() error
}

// NewChatRequest is the data of an inbound new_chat_request
type NewChatRequest struct {
	CustomerID string `json:"customerId"`
	Department string `json:"department,omitempty"`
	IsGuest    bool   `json:"isGuest"`
}

// Sanitize trims the request fields
func (r *NewChatRequest) Sanitize() {
	r.CustomerID = sanitizeString(r.CustomerID)
	r.Department = sanitizeString(r.Department)
}

// Validate checks field lengths. customerId may be omitted; the
// authenticated identity is authoritative.
func (r *NewChatRequest) Validate() error {
	if len(r.CustomerID) > constants.MaxGuestIDLength+len(constants.GuestIDPrefix) {
		return tooLong("customerId", constants.MaxGuestIDLength+len(constants.GuestIDPrefix))
	}
	if len(r.Department) > constants.MaxDepartmentLength {
		return tooLong("department", constants.MaxDepartmentLength)
	}
	return nil
}

// RoomRef is the data of events that only name a room: accept_chat, typing,
// stop_typing and close_chat.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// Sanitize trims the room id
func (r *RoomRef) Sanitize() {
	r.RoomID = sanitizeString(r.RoomID)
}

// Validate requires a room id
func (r *RoomRef) Validate() error {
	return validateRoomID(r.RoomID)
}

// SendMessage is the data of an inbound send_message
type SendMessage struct {
	RoomID string `json:"roomId"`
	Body   string `json:"body"`
}

// Sanitize trims both fields
func (m *SendMessage) Sanitize() {
	m.RoomID = sanitizeString(m.RoomID)
	m.Body = sanitizeString(m.Body)
}

// Validate requires a room id and a non-empty body within the length limit
func (m *SendMessage) Validate() error {
	if err := validateRoomID(m.RoomID); err != nil {
		return err
	}
	if m.Body == "" {
		return missing("body")
	}
	if utf8.RuneCountInString(m.Body) > constants.MaxBodyLength {
		return tooLong("body", constants.MaxBodyLength)
	}
	return nil
}

// TransferChat is the data of an inbound transfer_chat
type TransferChat struct {
	RoomID  string `json:"roomId"`
	AgentID string `json:"agentId"`
}

// Sanitize trims both fields
func (t *TransferChat) Sanitize() {
	t.RoomID = sanitizeString(t.RoomID)
	t.AgentID = sanitizeString(t.AgentID)
}

// Validate requires a room and a target agent
func (t *TransferChat) Validate() error {
	if err := validateRoomID(t.RoomID); err != nil {
		return err
	}
	if t.AgentID == "" {
		return missing("agentId")
	}
	return nil
}

func validateRoomID(roomID string) error {
	if roomID == "" {
		return missing("roomId")
	}
	if len(roomID) > constants.MaxRoomIDLength {
		return tooLong("roomId", constants.MaxRoomIDLength)
	}
	return nil
}

// sanitizeString removes NUL bytes and surrounding whitespace. Escaping for
// display is left to the clients.
func sanitizeString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// IsInbound reports whether t is an event clients may send
func IsInbound(t EventType) bool {
	switch t {
	case TypeNewChatRequest, TypeAcceptChat, TypeSendMessage, TypeTyping,
		TypeStopTyping, TypeCloseChat, TypeTransferChat:
		return true
	default:
		return false
	}
}

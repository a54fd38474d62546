package session

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/real-rm/supportchat/internal/auth"
)

// RoomMetadata is what a customer supplies with a chat request
type RoomMetadata struct {
	Department     string
	OrganizationID string // defaults to the customer's organization
}

// RoomView is an immutable snapshot of a room
type RoomView struct {
	ID             string
	CustomerID     string
	CustomerName   string
	IsGuest        bool
	AgentID        string
	AgentName      string
	Department     string
	OrganizationID string
	State          State
	CreatedAt      time.Time
	LastActivityAt time.Time
	ClosedAt       time.Time // zero until closed
	ClosedBy       string
	LastMessageID  int64
}

// HasParticipant reports whether participantID is the room's customer or assigned agent
func (v RoomView) HasParticipant(participantID string) bool {
	return participantID != "" && (participantID == v.CustomerID || participantID == v.AgentID)
}

// Counterpart returns the other participant of the room, or "" when
// participantID is not a participant or the room has no agent yet.
func (v RoomView) Counterpart(participantID string) string {
	switch participantID {
	case v.CustomerID:
		return v.AgentID
	case v.AgentID:
		return v.CustomerID
	}
	return ""
}

// Room is the live record of one chat. All fields are guarded by mu, which is
// also the serialization point for claims, appends, transfers and closes.
type Room struct {
	mu sync.Mutex

	id             string
	customer       auth.Identity
	agent          auth.Identity
	department     string
	organizationID string
	state          State
	createdAt      time.Time
	lastActivityAt time.Time
	closedAt       time.Time
	closedBy       string
	log            messageLog
}

// view must be called with r.mu held
func (r *Room) view() RoomView {
	return RoomView{
		ID:             r.id,
		CustomerID:     r.customer.ParticipantID,
		CustomerName:   r.customer.DisplayName(),
		IsGuest:        r.customer.IsGuest,
		AgentID:        r.agent.ParticipantID,
		AgentName:      r.agent.Name,
		Department:     r.department,
		OrganizationID: r.organizationID,
		State:          r.state,
		CreatedAt:      r.createdAt,
		LastActivityAt: r.lastActivityAt,
		ClosedAt:       r.closedAt,
		ClosedBy:       r.closedBy,
		LastMessageID:  r.log.lastID(),
	}
}

// snapshot locks r and returns its view
func (r *Room) snapshot() RoomView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view()
}

func sortByCreation(views []RoomView) []RoomView {
	slices.SortFunc(views, func(a, b RoomView) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return views
}

package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
)

// handleNewChatRequest queues a room for a customer. A customer who already
// has an open room gets that room back, with its history, instead of an error.
func (r *EventRouter) handleNewChatRequest(ctx context.Context, client registry.Handle, req message.NewChatRequest) error {
	identity := client.Identity()
	if identity.Role != auth.RoleCustomer {
		return chaterrors.ErrForbidden("request a chat")
	}
	if req.CustomerID != "" && !sameCustomer(identity, req.CustomerID) {
		return chaterrors.ErrForbidden("request a chat for another customer")
	}

	_, err := r.store.CreateRoom(ctx, identity, session.RoomMetadata{Department: req.Department})
	if errors.Is(err, session.ErrDuplicateActiveSession) {
		if r.replayOpenRoom(client, identity.ParticipantID) {
			return nil
		}
		// the open room closed between CreateRoom and the lookup; try once more
		_, err = r.store.CreateRoom(ctx, identity, session.RoomMetadata{Department: req.Department})
	}
	return err
}

// sameCustomer accepts the customer id with or without the guest prefix
func sameCustomer(identity auth.Identity, claimed string) bool {
	if claimed == identity.ParticipantID {
		return true
	}
	return identity.IsGuest && constants.GuestIDPrefix+claimed == identity.ParticipantID
}

// handleAcceptChat lets a staff member claim a waiting room
func (r *EventRouter) handleAcceptChat(ctx context.Context, client registry.Handle, ref message.RoomRef) error {
	identity := client.Identity()
	if !identity.Role.IsStaff() {
		return chaterrors.ErrForbidden("accept chats")
	}

	if _, err := r.visibleRoom(identity, ref.RoomID); err != nil {
		return err
	}

	_, err := r.store.Claim(ctx, ref.RoomID, identity)
	if errors.Is(err, session.ErrAlreadyClaimed) {
		metrics.ClaimConflicts.Inc()
	}
	return err
}

// handleSendMessage appends to the room log; delivery happens in the broadcaster
func (r *EventRouter) handleSendMessage(ctx context.Context, client registry.Handle, msg message.SendMessage) error {
	identity := client.Identity()
	if !r.limiter.Allow(identity.ParticipantID) {
		retryAfter := r.limiter.GetRetryAfter(identity.ParticipantID)
		r.logger.Warn("Message rate limit exceeded",
			"participant_id", identity.ParticipantID,
			"room_id", msg.RoomID,
			"retry_after", retryAfter)
		return chaterrors.ErrTooManyRequests(retryAfter)
	}
	if _, err := r.visibleRoom(identity, msg.RoomID); err != nil {
		return err
	}

	_, err := r.store.Append(ctx, msg.RoomID, identity, msg.Body)
	return err
}

func (r *EventRouter) handleTyping(ctx context.Context, client registry.Handle, ref message.RoomRef) error {
	return r.relayTyping(client, ref.RoomID, message.TypeUserTyping)
}

func (r *EventRouter) handleStopTyping(ctx context.Context, client registry.Handle, ref message.RoomRef) error {
	return r.relayTyping(client, ref.RoomID, message.TypeUserStopTyping)
}

// relayTyping forwards a typing indicator to the other side of the room.
// Indicators are never stored.
func (r *EventRouter) relayTyping(client registry.Handle, roomID string, eventType message.EventType) error {
	identity := client.Identity()
	room, err := r.visibleRoom(identity, roomID)
	if err != nil {
		return err
	}
	if room.State == session.StateClosed {
		return fmt.Errorf("%w: room %s", session.ErrRoomClosed, roomID)
	}

	var targets []string
	switch {
	case room.HasParticipant(identity.ParticipantID):
		if other := room.Counterpart(identity.ParticipantID); other != "" {
			targets = append(targets, other)
		}
	case identity.Role == auth.RoleAdmin:
		targets = append(targets, room.CustomerID)
		if room.AgentID != "" {
			targets = append(targets, room.AgentID)
		}
	default:
		return fmt.Errorf("%w: %s in room %s", session.ErrNotParticipant, identity.ParticipantID, roomID)
	}

	r.send(r.handlesOf(targets...), eventType, message.TypingPayload{
		RoomID:        roomID,
		ParticipantID: identity.ParticipantID,
		Role:          string(identity.Role),
		Name:          identity.DisplayName(),
	})
	return nil
}

// handleCloseChat closes a room on behalf of a participant or an admin
func (r *EventRouter) handleCloseChat(ctx context.Context, client registry.Handle, ref message.RoomRef) error {
	_, _, err := r.CloseRoom(ctx, client.Identity(), ref.RoomID)
	return err
}

// CloseRoom closes roomID for actor after checking that actor may close it.
// It is shared by close_chat and the admin HTTP endpoint, so both produce the
// same chat_closed broadcast.
func (r *EventRouter) CloseRoom(ctx context.Context, actor auth.Identity, roomID string) (session.RoomView, bool, error) {
	room, err := r.visibleRoom(actor, roomID)
	if err != nil {
		return session.RoomView{}, false, err
	}
	if !room.HasParticipant(actor.ParticipantID) && actor.Role != auth.RoleAdmin {
		return session.RoomView{}, false, fmt.Errorf("%w: %s in room %s", session.ErrNotParticipant, actor.ParticipantID, roomID)
	}
	return r.store.Close(ctx, roomID, actor.ParticipantID)
}

// handleTransferChat reassigns an active room. Admins may move any room; an
// agent may hand over only a room it serves. The target must be a connected
// staff member.
func (r *EventRouter) handleTransferChat(ctx context.Context, client registry.Handle, req message.TransferChat) error {
	identity := client.Identity()
	if !identity.Role.IsStaff() {
		return chaterrors.ErrForbidden("transfer chats")
	}

	room, err := r.visibleRoom(identity, req.RoomID)
	if err != nil {
		return err
	}
	if identity.Role != auth.RoleAdmin && room.AgentID != identity.ParticipantID {
		return chaterrors.ErrForbidden("transfer a chat served by another agent")
	}

	target, ok := r.staffIdentity(req.AgentID)
	if !ok || !VisibleTo(target, room) {
		return chaterrors.ErrAgentUnavailable(req.AgentID)
	}

	_, err = r.store.Transfer(ctx, req.RoomID, identity.ParticipantID, target)
	return err
}

// staffIdentity looks up a connected staff member by participant id
func (r *EventRouter) staffIdentity(participantID string) (auth.Identity, bool) {
	for _, h := range r.conns.HandlesFor(participantID) {
		if id := h.Identity(); id.Role.IsStaff() {
			return id, true
		}
	}
	return auth.Identity{}, false
}

// visibleRoom returns roomID when identity may see it. Rooms of another
// organization are reported as not found.
func (r *EventRouter) visibleRoom(identity auth.Identity, roomID string) (session.RoomView, error) {
	room, err := r.store.Get(roomID)
	if err != nil {
		return session.RoomView{}, err
	}
	if !VisibleTo(identity, room) {
		return session.RoomView{}, fmt.Errorf("%w: %s", session.ErrRoomNotFound, roomID)
	}
	return room, nil
}

// VisibleTo reports whether a staff identity may see room. Identities and
// rooms without an organization are visible across tenants.
func VisibleTo(identity auth.Identity, room session.RoomView) bool {
	return identity.OrganizationID == "" ||
		room.OrganizationID == "" ||
		identity.OrganizationID == room.OrganizationID
}

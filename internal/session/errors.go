package session

import "errors"

var (
	// ErrDuplicateActiveSession is returned by CreateRoom when the customer already has a room that is not closed
	ErrDuplicateActiveSession = errors.New("customer already has an open room")
	// ErrAlreadyClaimed is returned by Claim when another agent won the room
	ErrAlreadyClaimed = errors.New("room already claimed")
	// ErrRoomNotFound is returned for unknown, purged, or (on Claim) closed rooms
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomClosed is returned by Append on a closed room
	ErrRoomClosed = errors.New("room is closed")
	// ErrInvalidTransition is returned when the room's state does not allow the operation
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotParticipant is returned when the caller is not part of the room
	ErrNotParticipant = errors.New("not a participant of the room")
)

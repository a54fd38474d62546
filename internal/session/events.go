package session

import "github.com/real-rm/supportchat/internal/auth"

// Domain events published by the Store on its event bus. Each is published
// while the room's lock is held, so subscribers observe the events of one room
// in the order the room changed. Subscribers must not call back into the Store.

// RoomCreated is published when a customer's chat request is queued
type RoomCreated struct {
	Room RoomView
}

// RoomClaimed is published when an agent wins a waiting room
type RoomClaimed struct {
	Room  RoomView
	Agent auth.Identity
}

// RoomTransferred is published when an active room moves to another agent
type RoomTransferred struct {
	Room            RoomView
	PreviousAgentID string
	ActorID         string
	Messages        []Message // full history for the new agent, shared storage; do not modify
}

// MessageAppended is published for every message added to a room's log
type MessageAppended struct {
	Room    RoomView
	Message Message
}

// RoomClosed is published once per room, by the close that performed the transition
type RoomClosed struct {
	Room          RoomView
	PreviousState State
	Messages      []Message // full history, shared storage; do not modify
}

// RoomPurged is published when a closed room is evicted from memory
type RoomPurged struct {
	RoomID string
}

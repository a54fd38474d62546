package session

import "fmt"

// State is a room's lifecycle state
type State string

const (
	StateWaiting State = "waiting"
	StateActive  State = "active"
	StateClosed  State = "closed"
)

// Trigger is an operation that may move a room between states
type Trigger string

const (
	TriggerClaim    Trigger = "claim"
	TriggerClose    Trigger = "close"
	TriggerTransfer Trigger = "transfer"
)

// transitions lists every legal move. Closing a closed room is legal and
// leaves it closed; callers detect the no-op by comparing states. Disconnects
// are not triggers: a room outlives its participants' connections.
var transitions = map[State]map[Trigger]State{
	StateWaiting: {
		TriggerClaim: StateActive,
		TriggerClose: StateClosed,
	},
	StateActive: {
		TriggerClose:    StateClosed,
		TriggerTransfer: StateActive,
	},
	StateClosed: {
		TriggerClose: StateClosed,
	},
}

// Next returns the state reached by applying trigger in state from
func Next(from State, trigger Trigger) (State, error) {
	to, ok := transitions[from][trigger]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
	}
	return to, nil
}

// Open reports whether s is waiting or active
func (s State) Open() bool {
	return s == StateWaiting || s == StateActive
}

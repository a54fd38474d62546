package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext_TransitionTable(t *testing.T) {
	tests := []struct {
		from    State
		trigger Trigger
		to      State
		valid   bool
	}{
		{StateWaiting, TriggerClaim, StateActive, true},
		{StateWaiting, TriggerClose, StateClosed, true},
		{StateWaiting, TriggerTransfer, StateWaiting, false},
		{StateActive, TriggerClose, StateClosed, true},
		{StateActive, TriggerTransfer, StateActive, true},
		{StateActive, TriggerClaim, StateActive, false},
		{StateClosed, TriggerClose, StateClosed, true},
		{StateClosed, TriggerClaim, StateClosed, false},
		{StateClosed, TriggerTransfer, StateClosed, false},
		{State("archived"), TriggerClose, State("archived"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.trigger), func(t *testing.T) {
			to, err := Next(tt.from, tt.trigger)
			assert.Equal(t, tt.to, to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestState_Open(t *testing.T) {
	assert.True(t, StateWaiting.Open())
	assert.True(t, StateActive.Open())
	assert.False(t, StateClosed.Open())
}

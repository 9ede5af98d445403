package realtime

import (
	"errors"
	"fmt"
)

// State is the channel's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateOfflineMode  State = "offline-mode"
	StateClosed       State = "closed"
)

// ErrInvalidTransition is returned for a state change the channel does not
// allow, such as disconnected straight to connected.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed next states. Closed is terminal.
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateConnected, StateOfflineMode, StateDisconnected, StateClosed},
	StateConnected:    {StateDisconnected, StateClosed},
	StateOfflineMode:  {StateConnecting, StateClosed},
	StateClosed:       nil,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

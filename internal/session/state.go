package session

import (
	"errors"
	"fmt"
	"time"
)

// State is a session lifecycle state.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Joining
	Active
	Draining
	Closed
	Failed
)

var stateNames = [...]string{
	Disconnected:   "disconnected",
	Connecting:     "connecting",
	Authenticating: "authenticating",
	Joining:        "joining",
	Active:         "active",
	Draining:       "draining",
	Closed:         "closed",
	Failed:         "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// ErrInvalidTransition is returned when a transition outside the lifecycle
// graph is attempted. The state is left unchanged.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// next lists the single forward successor of each non-terminal state.
var next = map[State]State{
	Disconnected:   Connecting,
	Connecting:     Authenticating,
	Authenticating: Joining,
	Joining:        Active,
	Active:         Draining,
	Draining:       Closed,
}

// Can reports whether from -> to is a legal transition: the forward step of
// the lifecycle, or Failed from any non-terminal state.
func Can(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	succ, ok := next[from]
	return ok && succ == to
}

// Transition is one timestamped state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

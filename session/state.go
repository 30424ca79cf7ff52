// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"slices"
)

// ConnectionID identifies a connection within one orchestrator. IDs
// are assigned monotonically and never reused.
type ConnectionID uint64

// ListenerID identifies a listener within one orchestrator.
type ListenerID uint64

// Direction says which side opened a connection.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// State is a connection's lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateEstablished
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateConnecting:  "connecting",
	StateHandshaking: "handshaking",
	StateEstablished: "established",
	StateClosing:     "closing",
	StateClosed:      "closed",
	StateFailed:      "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions lists the legal successors of each non-terminal state.
// Failed is reachable from every non-terminal state.
var transitions = map[State][]State{
	StateConnecting:  {StateHandshaking, StateClosing, StateFailed},
	StateHandshaking: {StateEstablished, StateClosing, StateFailed},
	StateEstablished: {StateClosing, StateFailed},
	StateClosing:     {StateClosed, StateFailed},
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// CanTransition reports whether s → next is in the transition table.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

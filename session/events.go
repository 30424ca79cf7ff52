// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"net"
	"time"

	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/protocol"
)

// Event is anything published on the Bus. The concrete types are
// InboundFrame, Lifecycle, Accepted, ListenerClosed, UserInput and Tick.
type Event interface {
	isEvent()
}

// InboundFrame is a decoded frame read from an established connection.
type InboundFrame struct {
	Connection ConnectionID
	Frame      protocol.Frame
}

// Lifecycle reports a connection moving to state To. Peer is set when
// To is StateEstablished; Err is set when To is StateFailed and may be
// set on StateClosed.
type Lifecycle struct {
	Connection ConnectionID
	To         State
	Peer       ref.PeerID
	Err        error
}

// Accepted carries a socket accepted by a listener bound for Cabal.
type Accepted struct {
	Cabal    ref.CabalKey
	Listener ListenerID
	Conn     net.Conn
}

// ListenerClosed reports that a listener's accept loop ended.
type ListenerClosed struct {
	Listener ListenerID
	Err      error
}

// UserInput is one line typed by the user, parsed on the orchestrator.
type UserInput struct {
	Line string
}

// Tick drives liveness checks.
type Tick struct {
	Now time.Time
}

func (InboundFrame) isEvent()   {}
func (Lifecycle) isEvent()      {}
func (Accepted) isEvent()       {}
func (ListenerClosed) isEvent() {}
func (UserInput) isEvent()      {}
func (Tick) isEvent()           {}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// TransportError is a socket-level failure: bind, dial, read, write, or
// a liveness timeout. It affects only the connection or listener that
// produced it.
type TransportError struct {
	Op      string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a peer misbehaving: a failed handshake, a malformed
// frame, or a frame the engine rejected. The connection is closed and
// its peer evicted from the registry.
type ProtocolError struct {
	Connection ConnectionID
	Err        error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on connection %d: %v", e.Connection, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InvariantViolation is an operation the session model forbids. It is
// logged at warn and the operation is a no-op.
type InvariantViolation struct {
	Op     string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

var (
	// ErrDuplicateIdentity is returned by PeerRegistry.Register when the
	// peer already has a live link in the cabal.
	ErrDuplicateIdentity = errors.New("peer already has a live connection")

	// ErrQueueFull is the cause of a TransportError when a connection's
	// outbound queue overflows.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrPeerSilent is the cause of a TransportError when an established
	// peer has not sent anything for the dead timeout.
	ErrPeerSilent = errors.New("peer stopped responding")

	// ErrHandshakeTimeout is the cause of a TransportError when a
	// connection spends too long before Established.
	ErrHandshakeTimeout = errors.New("handshake did not complete in time")
)

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the orchestration core of the cabin client: it
// owns every cabal, channel, window and peer connection, and applies
// network events, user input and ticks one at a time.
//
// Producers never touch state. Each connection runs one goroutine that
// dials (outbound), performs the transport handshake, and then reads
// frames; each listener runs one accept goroutine; the input source
// and the ticker run one each. All of them only call [Bus.Publish].
// The [Orchestrator] is the single consumer. It drains the bus in FIFO
// order, applies each event to its state, and after every event that
// changed something hands an immutable [Snapshot] to the [Renderer] on
// its own goroutine, so a render never observes a half-applied event.
//
// Connections move through a validated state machine
// (Connecting, Handshaking, Established, Closing, Closed, Failed). Only
// Established connections are registered in their cabal's
// [PeerRegistry], which admits one live link per peer identity; a
// duplicate link is closed and its remaining events are dropped. A
// connection that fails before it is Established leaves no trace
// beyond a log line and an entry in the transient lifecycle ring.
//
// Failures are typed: [*TransportError] for socket failures,
// [*ProtocolError] for peers that violate the protocol, and
// [*InvariantViolation] for operations the model forbids (closing the
// status window, an illegal state transition). User command failures
// are [*command.Error] values. None of them escape [Orchestrator.Run];
// each becomes a status line.
package session

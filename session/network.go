// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"time"

	"github.com/cabin-chat/cabin/protocol"
)

// record appends to the lifecycle ring.
func (o *Orchestrator) record(entry *connectionEntry, state State, err error) {
	item := LifecycleEntry{
		Time:       o.clock.Now(),
		Connection: entry.id,
		Cabal:      entry.cabal,
		Direction:  entry.direction,
		Remote:     entry.remote,
		State:      state,
	}
	if err != nil {
		item.Err = err.Error()
	}
	o.lifecycle = append(o.lifecycle, item)
	if overflow := len(o.lifecycle) - o.config.LifecycleHistory; overflow > 0 {
		o.lifecycle = append(o.lifecycle[:0:0], o.lifecycle[overflow:]...)
	}
	o.dirty = true
}

// closeConnection starts a local close. The terminal Lifecycle event
// from the goroutine finishes the teardown.
func (o *Orchestrator) closeConnection(entry *connectionEntry) {
	if entry.state == StateClosing || entry.state.Terminal() {
		return
	}
	entry.state = StateClosing
	o.record(entry, StateClosing, entry.failure)
	entry.conn.Close()
}

// failConnection closes entry and remembers why.
func (o *Orchestrator) failConnection(entry *connectionEntry, err error) {
	if entry.state == StateClosing || entry.state.Terminal() {
		return
	}
	entry.failure = err
	o.closeConnection(entry)
}

func (o *Orchestrator) applyLifecycle(event Lifecycle) {
	entry := o.connections[event.Connection]
	if entry == nil {
		o.logger.Debug("lifecycle event for unknown connection", "connection", uint64(event.Connection), "state", event.To.String())
		return
	}

	if event.To.Terminal() {
		if !entry.state.CanTransition(event.To) {
			o.violation(&InvariantViolation{
				Op:     "connection transition",
				Detail: fmt.Sprintf("connection %d: %s -> %s", entry.id, entry.state, event.To),
			})
		}
		o.finish(entry, event)
		return
	}

	if entry.state == StateClosing {
		// A local close raced the goroutine's progress.
		return
	}
	if !entry.state.CanTransition(event.To) {
		o.violation(&InvariantViolation{
			Op:     "connection transition",
			Detail: fmt.Sprintf("connection %d: %s -> %s", entry.id, entry.state, event.To),
		})
		return
	}
	entry.state = event.To
	o.record(entry, event.To, nil)
	if event.To == StateEstablished {
		o.establish(entry, event)
	}
}

// establish registers a freshly verified link, or closes it if the
// peer already has one in this cabal.
func (o *Orchestrator) establish(entry *connectionEntry, event Lifecycle) {
	entry.peer = event.Peer
	entry.lastSeen = o.clock.Now()
	logger := o.connectionLogger(entry)

	cabal := o.cabals.Get(entry.cabal)
	if cabal == nil {
		o.violation(&InvariantViolation{Op: "establish", Detail: fmt.Sprintf("connection %d has no cabal", entry.id)})
		o.closeConnection(entry)
		return
	}
	if err := cabal.Registry.Register(entry.peer, entry.id); err != nil {
		o.violation(&InvariantViolation{Op: "register", Detail: err.Error()})
		entry.suppressed = true
		o.closeConnection(entry)
		return
	}
	entry.registered = true
	logger.Info("peer connected")
	o.statusf("connected to %s (%s, %s) in cabal %s", entry.peer.Short(), entry.remote, entry.direction, cabal.Key.Short())
	o.applyResult(cabal, cabal.Engine.Join(entry.peer))
}

// finish removes a connection whose goroutine has ended.
func (o *Orchestrator) finish(entry *connectionEntry, event Lifecycle) {
	reason := event.Err
	if reason == nil {
		reason = entry.failure
	}
	delete(o.connections, entry.id)
	entry.state = event.To
	o.record(entry, event.To, reason)
	o.logTerminal(entry, event.To, reason)

	cabal := o.cabals.Get(entry.cabal)
	if entry.registered && cabal != nil {
		if cabal.Registry.Remove(entry.peer, entry.id) {
			if !o.shuttingDown {
				if reason != nil {
					o.statusf("disconnected from %s: %v", peerName(cabal, entry.peer), reason)
				} else {
					o.statusf("disconnected from %s", peerName(cabal, entry.peer))
				}
			}
			o.applyResult(cabal, cabal.Engine.Leave(entry.peer))
		}
		return
	}

	// Never established (or a rejected duplicate): nothing in the
	// registry, channels or members refers to it. Only a /connect the
	// user asked for is worth a status line.
	if entry.direction == Outbound && !entry.suppressed && !o.shuttingDown && reason != nil {
		o.statusf("connect to %s failed: %v", entry.remote, reason)
	}
}

func (o *Orchestrator) applyInbound(event InboundFrame) {
	entry := o.connections[event.Connection]
	if entry == nil || entry.state != StateEstablished || !entry.registered {
		return
	}
	entry.lastSeen = o.clock.Now()
	entry.pinged = false

	cabal := o.cabals.Get(entry.cabal)
	result, err := cabal.Engine.Ingest(entry.peer, event.Frame)
	if err != nil {
		o.failConnection(entry, &ProtocolError{Connection: entry.id, Err: err})
		return
	}
	o.applyResult(cabal, result)
}

func (o *Orchestrator) applyAccepted(event Accepted) {
	remote := event.Conn.RemoteAddr().String()
	if o.shuttingDown || o.listeners[event.Listener] == nil || o.cabals.Get(event.Cabal) == nil {
		o.logger.Debug("dropping accepted socket", "remote", remote, "listener", uint64(event.Listener))
		event.Conn.Close()
		return
	}
	o.openConnection(event.Cabal, Inbound, remote, event.Conn)
}

func (o *Orchestrator) applyListenerClosed(event ListenerClosed) {
	listener := o.listeners[event.Listener]
	if listener == nil {
		return
	}
	delete(o.listeners, event.Listener)
	o.dirty = true
	logger := o.logger.With("listener", uint64(listener.ID), "address", listener.Address(), "cabal", listener.Cabal.Short())
	if event.Err != nil && !o.shuttingDown {
		logger.Warn("listener failed", "error", event.Err)
		o.statusf("stopped listening on %s: %v", listener.Address(), event.Err)
		return
	}
	logger.Info("listener closed")
}

// applyTick enforces handshake and liveness deadlines.
func (o *Orchestrator) applyTick(now time.Time) {
	if o.shuttingDown {
		return
	}
	for _, entry := range o.sortedConnections() {
		switch entry.state {
		case StateConnecting, StateHandshaking:
			if now.Sub(entry.opened) >= o.config.HandshakeTimeout {
				o.failConnection(entry, &TransportError{Op: "handshake", Address: entry.remote, Err: ErrHandshakeTimeout})
			}

		case StateEstablished:
			silent := now.Sub(entry.lastSeen)
			switch {
			case silent >= o.config.DeadTimeout:
				o.failConnection(entry, &TransportError{Op: "liveness", Address: entry.remote, Err: ErrPeerSilent})
			case silent >= o.config.IdleTimeout && !entry.pinged:
				o.nextNonce++
				entry.pinged = true
				o.sendTo(entry, protocol.Frame{Type: protocol.FramePing, Nonce: o.nextNonce})
			}
		}
	}
}

// sendTo queues frame on an established connection, failing the
// connection if its queue is full.
func (o *Orchestrator) sendTo(entry *connectionEntry, frame protocol.Frame) {
	if entry.state != StateEstablished {
		return
	}
	if err := entry.conn.Send(frame); err != nil {
		o.failConnection(entry, &TransportError{Op: "send", Address: entry.remote, Err: err})
	}
}

// applyResult applies engine events, then sends engine frames.
func (o *Orchestrator) applyResult(cabal *Cabal, result protocol.Result) {
	for _, event := range result.Events {
		o.applyProtocolEvent(cabal, event)
	}
	for _, outbound := range result.Outbound {
		id, ok := cabal.Registry.Lookup(outbound.To)
		if !ok {
			o.logger.Debug("no link for outbound frame", "peer", outbound.To.Short(), "frame", outbound.Frame)
			continue
		}
		if entry := o.connections[id]; entry != nil {
			o.sendTo(entry, outbound.Frame)
		}
	}
}

func (o *Orchestrator) applyProtocolEvent(cabal *Cabal, event protocol.Event) {
	switch event := event.(type) {
	case protocol.MessagePosted:
		channel := cabal.ensureChannel(event.Channel)
		message := event.Message
		if message.Nick == "" {
			message.Nick = cabal.Nick(message.Author)
		}
		if channel.appendMessage(message) {
			o.touchChannel(cabal, event.Channel)
		}

	case protocol.MembershipChanged:
		channel := cabal.ensureChannel(event.Channel)
		if !channel.setMember(event.Peer, event.Joined) {
			return
		}
		verb := "left"
		if event.Joined {
			verb = "joined"
		}
		channel.appendNotice(event.Time, event.Peer, fmt.Sprintf("%s %s #%s", peerName(cabal, event.Peer), verb, event.Channel))
		o.touchChannel(cabal, event.Channel)

	case protocol.TopicChanged:
		channel := cabal.ensureChannel(event.Channel)
		channel.Topic = event.Topic
		channel.appendNotice(event.Time, event.By, fmt.Sprintf("%s set the topic: %s", peerName(cabal, event.By), event.Topic))
		o.touchChannel(cabal, event.Channel)

	case protocol.ChannelDiscovered:
		cabal.ensureChannel(event.Channel)
		o.dirty = true

	case protocol.NickChanged:
		cabal.nicks[event.Peer] = event.Nick
		o.dirty = true

	case protocol.PeerVerified:
		o.logger.Debug("peer admitted by engine", "cabal", cabal.Key.Short(), "peer", event.Peer.Short())

	default:
		o.violation(&InvariantViolation{Op: "engine event", Detail: fmt.Sprintf("unknown event %T", event)})
	}
}

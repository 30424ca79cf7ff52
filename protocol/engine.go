// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"time"

	"github.com/cabin-chat/cabin/lib/ref"
)

// Engine is the per-cabal protocol capability set consumed by the
// session core. Implementations are not safe for concurrent use; the
// orchestrator is their only caller.
type Engine interface {
	// Join admits a peer whose identity the transport handshake has
	// verified. The result typically requests channel lists and
	// history from the new peer.
	Join(peer ref.PeerID) Result

	// Leave forgets a disconnected peer.
	Leave(peer ref.PeerID) Result

	// JoinChannel joins the local user to channel, announcing it to
	// peers and replaying stored history.
	JoinChannel(channel string) (Result, error)

	// LeaveChannel announces departure from a joined channel.
	LeaveChannel(channel string) (Result, error)

	// Post publishes body to channel. Fails with ErrNotJoined unless
	// the channel was joined.
	Post(channel, body string) (Result, error)

	// RequestHistory asks every peer for channel posts in span.
	RequestHistory(channel string, span Range) Result

	// SetTopic publishes a new topic for a joined channel.
	SetTopic(channel, topic string) (Result, error)

	// SetNick publishes the local display name to every joined
	// channel.
	SetNick(nick string) Result

	// Ingest applies a frame received from a verified peer. An error
	// means the peer sent invalid data and the link should be closed.
	Ingest(peer ref.PeerID, frame Frame) (Result, error)
}

// Result carries the effects of one engine call.
type Result struct {
	Events   []Event
	Outbound []Outbound
}

func (r *Result) emit(event Event) { r.Events = append(r.Events, event) }

func (r *Result) send(peer ref.PeerID, frame Frame) {
	r.Outbound = append(r.Outbound, Outbound{To: peer, Frame: frame})
}

// Outbound is a frame addressed to one peer.
type Outbound struct {
	To    ref.PeerID
	Frame Frame
}

// Range is a closed time interval. A zero Until means "now".
type Range struct {
	Since time.Time
	Until time.Time
}

// LastPeriod returns the range covering the period before now.
func LastPeriod(now time.Time, period time.Duration) Range {
	return Range{Since: now.Add(-period), Until: now}
}

// Engine errors.
var (
	ErrNotJoined      = errors.New("channel not joined")
	ErrInvalidChannel = errors.New("invalid channel name")
	ErrBodyTooLarge   = errors.New("message body too large")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrBadPost        = errors.New("invalid post")
)

// Event is a protocol-level change for the session to apply. The
// concrete types are MessagePosted, MembershipChanged, TopicChanged,
// PeerVerified, ChannelDiscovered and NickChanged.
type Event interface {
	isEvent()
}

// MessagePosted reports a chat line, local or remote, in a channel.
type MessagePosted struct {
	Channel string
	Message Message
}

// MembershipChanged reports that Peer joined or left Channel.
type MembershipChanged struct {
	Channel string
	Peer    ref.PeerID
	Nick    string
	Joined  bool
	Time    time.Time
}

// TopicChanged reports a new channel topic.
type TopicChanged struct {
	Channel string
	Topic   string
	By      ref.PeerID
	Nick    string
	Time    time.Time
}

// PeerVerified reports that a peer was admitted to the cabal.
type PeerVerified struct {
	Peer ref.PeerID
}

// ChannelDiscovered reports a channel learned from a peer.
type ChannelDiscovered struct {
	Channel string
}

// NickChanged reports a peer's (or our own) new display name.
type NickChanged struct {
	Peer ref.PeerID
	Nick string
}

func (MessagePosted) isEvent()     {}
func (MembershipChanged) isEvent() {}
func (TopicChanged) isEvent()      {}
func (PeerVerified) isEvent()      {}
func (ChannelDiscovered) isEvent() {}
func (NickChanged) isEvent()       {}

// Message is a chat line as the session stores it.
type Message struct {
	ID     PostID
	Author ref.PeerID
	Nick   string
	Time   time.Time
	Body   string
}

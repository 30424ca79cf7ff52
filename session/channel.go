// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"slices"
	"time"

	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/protocol"
)

// LineKind distinguishes what a log line represents.
type LineKind int

const (
	// LineMessage is a chat message from a peer or from us.
	LineMessage LineKind = iota
	// LineNotice is a channel event: join, part, topic change.
	LineNotice
	// LineStatus is client output in the status window.
	LineStatus
)

// Line is one immutable entry of a window log.
type Line struct {
	Time   time.Time
	Kind   LineKind
	Author ref.PeerID
	Nick   string
	Body   string
	ID     protocol.PostID
}

// Channel is the session's view of one channel in one cabal. Its log is
// append-only and survives closing the channel's window.
type Channel struct {
	Name    string
	Topic   string
	Joined  bool
	members map[ref.PeerID]bool
	log     []Line
	seen    map[protocol.PostID]bool
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:    name,
		members: make(map[ref.PeerID]bool),
		seen:    make(map[protocol.PostID]bool),
	}
}

// appendMessage adds a chat message unless a message with the same id
// is already in the log. Replayed history and relayed duplicates are
// dropped here.
func (c *Channel) appendMessage(message protocol.Message) bool {
	if !message.ID.IsZero() {
		if c.seen[message.ID] {
			return false
		}
		c.seen[message.ID] = true
	}
	c.log = append(c.log, Line{
		Time:   message.Time,
		Kind:   LineMessage,
		Author: message.Author,
		Nick:   message.Nick,
		Body:   message.Body,
		ID:     message.ID,
	})
	return true
}

func (c *Channel) appendNotice(when time.Time, peer ref.PeerID, body string) {
	c.log = append(c.log, Line{Time: when, Kind: LineNotice, Author: peer, Body: body})
}

// setMember records a join or part. It reports whether membership
// changed.
func (c *Channel) setMember(peer ref.PeerID, joined bool) bool {
	if c.members[peer] == joined {
		return false
	}
	if joined {
		c.members[peer] = true
	} else {
		delete(c.members, peer)
	}
	return true
}

// Members returns member ids in a stable order.
func (c *Channel) Members() []ref.PeerID {
	members := make([]ref.PeerID, 0, len(c.members))
	for peer := range c.members {
		members = append(members, peer)
	}
	slices.SortFunc(members, ref.PeerID.Compare)
	return members
}

// Log returns the log with capacity clipped to its length, so callers
// holding it cannot append into the channel's backing array.
func (c *Channel) Log() []Line { return slices.Clip(c.log) }

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"slices"
	"time"

	"github.com/cabin-chat/cabin/lib/ref"
)

// Renderer receives every snapshot on the orchestrator goroutine. It
// must not block for long; a terminal front end hands the snapshot to
// its own event loop and returns.
type Renderer interface {
	Render(Snapshot)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(Snapshot)

// Render calls f.
func (f RenderFunc) Render(snapshot Snapshot) { f(snapshot) }

// Snapshot is an immutable copy of everything a front end draws. Line
// slices share backing arrays with the live logs; logs only ever
// append, and the slices are clipped, so the shared prefix never
// changes under the reader.
type Snapshot struct {
	Seq  uint64
	Self ref.PeerID
	Nick string

	// Active is the focused window's index.
	Active      int
	ActiveCabal ref.CabalKey
	Windows     []WindowView

	// Invalidated lists, in ascending order and without duplicates, the
	// windows whose content changed since the previous snapshot.
	Invalidated []int

	Cabals       []CabalView
	Lifecycle    []LifecycleEntry
	ShuttingDown bool
}

// Window returns the view for index.
func (s Snapshot) Window(index int) (WindowView, bool) {
	for _, window := range s.Windows {
		if window.Index == index {
			return window, true
		}
	}
	return WindowView{}, false
}

// ActiveWindow returns the focused window's view.
func (s Snapshot) ActiveWindow() WindowView {
	window, _ := s.Window(s.Active)
	return window
}

// WindowView is one window's renderable state.
type WindowView struct {
	Index   int
	Title   string
	Cabal   ref.CabalKey
	Channel string
	Topic   string
	Joined  bool
	Members []MemberView
	Lines   []Line
	Unread  int
}

// MemberView is one channel member with its current display name.
type MemberView struct {
	Peer ref.PeerID
	Nick string
}

// CabalView summarizes one cabal.
type CabalView struct {
	Key         ref.CabalKey
	Active      bool
	Channels    []string
	Peers       []ref.PeerID
	Listeners   []string
	Connections []ConnectionView
}

// ConnectionView is one live connection, established or not.
type ConnectionView struct {
	ID        ConnectionID
	Direction Direction
	Remote    string
	State     State
	Peer      ref.PeerID
}

// LifecycleEntry records one connection state change. The orchestrator
// keeps a bounded ring of them; they never enter a window log.
type LifecycleEntry struct {
	Time       time.Time
	Connection ConnectionID
	Cabal      ref.CabalKey
	Direction  Direction
	Remote     string
	State      State
	Err        string
}

// snapshot builds the current Snapshot and advances the sequence.
func (o *Orchestrator) snapshot() Snapshot {
	o.seq++
	snapshot := Snapshot{
		Seq:          o.seq,
		Self:         o.self,
		Nick:         o.nick,
		Active:       o.windows.Active().Index,
		Lifecycle:    slices.Clone(o.lifecycle),
		ShuttingDown: o.shuttingDown,
	}
	if active := o.cabals.Active(); active != nil {
		snapshot.ActiveCabal = active.Key
	}

	for _, window := range o.windows.List() {
		snapshot.Windows = append(snapshot.Windows, o.windowView(window))
	}

	for index := range o.invalidated {
		snapshot.Invalidated = append(snapshot.Invalidated, index)
	}
	slices.Sort(snapshot.Invalidated)

	for _, cabal := range o.cabals.List() {
		snapshot.Cabals = append(snapshot.Cabals, o.cabalView(cabal))
	}
	return snapshot
}

func (o *Orchestrator) windowView(window *Window) WindowView {
	view := WindowView{Index: window.Index, Title: window.Title(), Unread: window.Unread}
	if window.IsStatus() {
		view.Lines = slices.Clip(o.status)
		return view
	}
	view.Cabal = window.Cabal
	view.Channel = window.Channel
	cabal := o.cabals.Get(window.Cabal)
	if cabal == nil {
		return view
	}
	channel := cabal.Channel(window.Channel)
	if channel == nil {
		return view
	}
	view.Topic = channel.Topic
	view.Joined = channel.Joined
	view.Lines = channel.Log()
	for _, peer := range channel.Members() {
		view.Members = append(view.Members, MemberView{Peer: peer, Nick: cabal.Nick(peer)})
	}
	return view
}

func (o *Orchestrator) cabalView(cabal *Cabal) CabalView {
	view := CabalView{Key: cabal.Key, Active: cabal == o.cabals.Active()}
	for _, channel := range cabal.Channels() {
		view.Channels = append(view.Channels, channel.Name)
	}
	for _, entry := range cabal.Registry.List() {
		view.Peers = append(view.Peers, entry.Peer)
	}
	for _, listener := range o.sortedListeners() {
		if listener.Cabal == cabal.Key {
			view.Listeners = append(view.Listeners, listener.Address())
		}
	}
	for _, entry := range o.sortedConnections() {
		if entry.cabal == cabal.Key {
			view.Connections = append(view.Connections, ConnectionView{
				ID:        entry.id,
				Direction: entry.direction,
				Remote:    entry.remote,
				State:     entry.state,
				Peer:      entry.peer,
			})
		}
	}
	return view
}

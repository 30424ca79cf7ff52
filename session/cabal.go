// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/cabin-chat/cabin/command"
	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/protocol"
)

// EngineFactory builds the protocol engine for a newly added cabal.
type EngineFactory func(key ref.CabalKey) (protocol.Engine, error)

// Cabal is one logical chat network: its peer links, its channels, and
// its protocol engine.
type Cabal struct {
	Key      ref.CabalKey
	Registry *PeerRegistry
	Engine   protocol.Engine

	channels map[string]*Channel
	order    []string
	nicks    map[ref.PeerID]string
}

// Channel returns the named channel, or nil.
func (c *Cabal) Channel(name string) *Channel { return c.channels[name] }

// ensureChannel returns the named channel, creating it if needed.
func (c *Cabal) ensureChannel(name string) *Channel {
	if channel, ok := c.channels[name]; ok {
		return channel
	}
	channel := newChannel(name)
	c.channels[name] = channel
	c.order = append(c.order, name)
	return channel
}

// Channels returns channels in the order the cabal learned them.
func (c *Cabal) Channels() []*Channel {
	channels := make([]*Channel, 0, len(c.order))
	for _, name := range c.order {
		channels = append(channels, c.channels[name])
	}
	return channels
}

// Nick returns the display name last announced by peer, or "".
func (c *Cabal) Nick(peer ref.PeerID) string { return c.nicks[peer] }

// Cabals is the ordered set of cabals with at most one active.
type Cabals struct {
	byKey  map[ref.CabalKey]*Cabal
	order  []*Cabal
	active *Cabal
}

// NewCabals returns an empty set.
func NewCabals() *Cabals {
	return &Cabals{byKey: make(map[ref.CabalKey]*Cabal)}
}

// Add creates the cabal for key and makes it active. An existing key
// fails with command.KindAlreadyExists and changes nothing; newEngine is
// only called for new keys.
func (s *Cabals) Add(key ref.CabalKey, newEngine EngineFactory) (*Cabal, error) {
	if _, exists := s.byKey[key]; exists {
		return nil, command.AlreadyExists("cabal %s already added. use /cabal set %s", key.Short(), key.Short())
	}
	engine, err := newEngine(key)
	if err != nil {
		return nil, command.Failed(err, "starting cabal %s", key.Short())
	}
	cabal := &Cabal{
		Key:      key,
		Registry: NewPeerRegistry(),
		Engine:   engine,
		channels: make(map[string]*Channel),
		nicks:    make(map[ref.PeerID]string),
	}
	s.byKey[key] = cabal
	s.order = append(s.order, cabal)
	s.active = cabal
	return cabal, nil
}

// SetActive makes an existing cabal active.
func (s *Cabals) SetActive(key ref.CabalKey) error {
	cabal, ok := s.byKey[key]
	if !ok {
		return command.UnknownCabal(key.Short())
	}
	s.active = cabal
	return nil
}

// Active returns the active cabal, or nil when none has been added.
func (s *Cabals) Active() *Cabal { return s.active }

// RequireActive returns the active cabal or a KindNoActiveCabal error.
func (s *Cabals) RequireActive() (*Cabal, error) {
	if s.active == nil {
		return nil, command.NoActiveCabal()
	}
	return s.active, nil
}

// Get returns the cabal for key, or nil.
func (s *Cabals) Get(key ref.CabalKey) *Cabal { return s.byKey[key] }

// List returns cabals in insertion order.
func (s *Cabals) List() []*Cabal { return append([]*Cabal(nil), s.order...) }

// String is used in debug logs.
func (s *Cabals) String() string {
	if s.active == nil {
		return fmt.Sprintf("%d cabals, none active", len(s.order))
	}
	return fmt.Sprintf("%d cabals, %s active", len(s.order), s.active.Key.Short())
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"slices"

	"github.com/cabin-chat/cabin/lib/ref"
)

// PeerRegistry maps verified peers of one cabal to their single live
// connection. It is only touched by the orchestrator goroutine.
type PeerRegistry struct {
	links map[ref.PeerID]ConnectionID
	order []ref.PeerID
}

// RegistryEntry is one registered link.
type RegistryEntry struct {
	Peer       ref.PeerID
	Connection ConnectionID
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{links: make(map[ref.PeerID]ConnectionID)}
}

// Register links peer to connection. Registering the same pair twice is
// a no-op. A different connection for an already-linked peer is
// rejected with ErrDuplicateIdentity and the existing link is kept.
func (r *PeerRegistry) Register(peer ref.PeerID, connection ConnectionID) error {
	if existing, ok := r.links[peer]; ok {
		if existing == connection {
			return nil
		}
		return fmt.Errorf("peer %s on connection %d, already linked by connection %d: %w",
			peer.Short(), connection, existing, ErrDuplicateIdentity)
	}
	r.links[peer] = connection
	r.order = append(r.order, peer)
	return nil
}

// Remove unlinks peer if and only if connection is its registered
// link, so a rejected duplicate closing cannot evict the live one.
func (r *PeerRegistry) Remove(peer ref.PeerID, connection ConnectionID) bool {
	if existing, ok := r.links[peer]; !ok || existing != connection {
		return false
	}
	delete(r.links, peer)
	r.order = slices.DeleteFunc(r.order, func(candidate ref.PeerID) bool { return candidate == peer })
	return true
}

// Lookup returns the connection linked to peer.
func (r *PeerRegistry) Lookup(peer ref.PeerID) (ConnectionID, bool) {
	connection, ok := r.links[peer]
	return connection, ok
}

// List returns the links in registration order.
func (r *PeerRegistry) List() []RegistryEntry {
	entries := make([]RegistryEntry, 0, len(r.order))
	for _, peer := range r.order {
		entries = append(entries, RegistryEntry{Peer: peer, Connection: r.links[peer]})
	}
	return entries
}

// Len returns the number of registered peers.
func (r *PeerRegistry) Len() int { return len(r.order) }

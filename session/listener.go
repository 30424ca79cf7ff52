// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync/atomic"

	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/transport"
)

// ListenFunc binds a listener. The default is transport.NewTCPListener.
type ListenFunc func(ctx context.Context, address string) (transport.Listener, error)

func listenTCP(ctx context.Context, address string) (transport.Listener, error) {
	return transport.NewTCPListener(ctx, address)
}

// Listener accepts sockets for exactly one cabal. The accept goroutine
// publishes one Accepted per socket and a final ListenerClosed.
type Listener struct {
	ID       ListenerID
	Cabal    ref.CabalKey
	listener transport.Listener
	bus      *Bus
	closing  atomic.Bool
	done     chan struct{}
}

func newListener(id ListenerID, cabal ref.CabalKey, listener transport.Listener, bus *Bus) *Listener {
	return &Listener{ID: id, Cabal: cabal, listener: listener, bus: bus, done: make(chan struct{})}
}

// Address returns the bound address, with the real port when bound to
// port 0.
func (l *Listener) Address() string { return l.listener.Address() }

func (l *Listener) start() { go l.acceptLoop() }

// Close stops accepting. The accept goroutine then publishes
// ListenerClosed with a nil error.
func (l *Listener) Close() {
	if l.closing.CompareAndSwap(false, true) {
		l.listener.Close()
	}
}

func (l *Listener) acceptLoop() {
	defer close(l.done)
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closing.Load() {
				err = nil
			} else {
				l.listener.Close()
			}
			l.bus.Publish(ListenerClosed{Listener: l.ID, Err: err})
			return
		}
		if !l.bus.Publish(Accepted{Cabal: l.Cabal, Listener: l.ID, Conn: conn}) {
			conn.Close()
			l.listener.Close()
			return
		}
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// Listener accepts inbound peer sockets on one bound address.
type Listener interface {
	// Accept blocks until a peer connects or the listener is closed.
	// After Close, Accept returns an error satisfying
	// errors.Is(err, net.ErrClosed).
	Accept() (net.Conn, error)

	// Address returns the bound address in "host:port" form. For a
	// ":0" bind this carries the kernel-assigned port.
	Address() string

	// Close stops accepting. Sockets already returned by Accept are
	// unaffected.
	Close() error
}

// Dialer opens outbound peer sockets.
type Dialer interface {
	// DialContext connects to address (host:port).
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

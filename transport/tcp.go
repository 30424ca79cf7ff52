// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts inbound TCP connections from peers. The socket is
// bound with SO_REUSEADDR where the platform supports it, so a listener
// can be re-created on a port whose previous connections are still in
// TIME_WAIT.
type TCPListener struct {
	listener net.Listener
}

// NewTCPListener binds address (e.g. ":8007" or "192.168.1.10:8007").
// Use ":0" for a random available port. Bind failures are returned
// immediately; use netutil.IsAddressInUse to classify them.
func NewTCPListener(ctx context.Context, address string) (*TCPListener, error) {
	config := net.ListenConfig{Control: reuseAddressControl}
	listener, err := config.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: listener}, nil
}

// Accept waits for the next inbound connection.
func (l *TCPListener) Accept() (net.Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// Liveness is tracked by ping frames; OS keepalives only
		// help reap half-open sockets after a peer vanishes.
		tcp.SetKeepAlive(true)
		tcp.SetNoDelay(true)
	}
	return conn, nil
}

// Address returns the bound TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener. A blocked Accept returns net.ErrClosed.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// TCPDialer opens TCP connections to peers.
type TCPDialer struct {
	// Timeout is the maximum time to wait for the TCP connect. Zero
	// means only the context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}).DialContext(ctx, "tcp", address)
}

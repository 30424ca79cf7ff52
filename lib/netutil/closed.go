// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small helpers shared by the transport and
// session layers for classifying socket errors.
package netutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal end of a peer
// connection: EOF, a read on a socket we closed ourselves, a broken pipe
// or a reset. A peer quitting its client produces one of these on our
// side, and so does our own shutdown unblocking a read loop. None of them
// are worth an error-level log line.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry. The handshake sets
// a deadline on the raw socket, and an expiry there is a liveness
// failure rather than a protocol violation.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsAddressInUse reports whether a bind failed because another socket
// already holds the address.
func IsAddressInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

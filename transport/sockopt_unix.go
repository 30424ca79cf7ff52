// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddressControl sets SO_REUSEADDR on the listening socket before
// bind.
func reuseAddressControl(network, address string, raw syscall.RawConn) error {
	var optionErr error
	err := raw.Control(func(fd uintptr) {
		optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return optionErr
}

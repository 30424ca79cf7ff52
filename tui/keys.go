// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings. Everything not bound here goes to
// the input line.
type KeyMap struct {
	Submit   key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Bottom   key.Binding

	// NextWindow and PreviousWindow cycle focus by typing a /win
	// command on the user's behalf.
	NextWindow     key.Binding
	PreviousWindow key.Binding

	// Quit sends /exit; the program ends when the session has drained.
	Quit key.Binding
}

// DefaultKeyMap is the built-in binding set.
var DefaultKeyMap = KeyMap{
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("PgUp", "scroll back"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("PgDn", "scroll forward"),
	),
	Bottom: key.NewBinding(
		key.WithKeys("ctrl+end"),
		key.WithHelp("C-End", "latest"),
	),
	NextWindow: key.NewBinding(
		key.WithKeys("alt+right", "ctrl+n"),
		key.WithHelp("C-n", "next window"),
	),
	PreviousWindow: key.NewBinding(
		key.WithKeys("alt+left", "ctrl+p"),
		key.WithHelp("C-p", "previous window"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "quit"),
	),
}

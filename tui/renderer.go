// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cabin-chat/cabin/session"
)

// ProgramRenderer forwards session snapshots into a bubbletea program.
// It is created before the program so it can be handed to the session
// first; snapshots rendered before SetProgram are dropped.
type ProgramRenderer struct {
	program atomic.Pointer[tea.Program]
}

// SetProgram sets the receiving program.
func (renderer *ProgramRenderer) SetProgram(program *tea.Program) {
	renderer.program.Store(program)
}

// Render implements session.Renderer. It blocks until the program's
// event loop takes the snapshot, or returns at once after the program
// has exited.
func (renderer *ProgramRenderer) Render(snapshot session.Snapshot) {
	if program := renderer.program.Load(); program != nil {
		program.Send(snapshotMsg{snapshot: snapshot})
	}
}

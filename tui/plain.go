// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cabin-chat/cabin/session"
)

// Plain is the line-oriented front end. Every line that appears in any
// window is printed once as "[title] [HH:MM] text".
type Plain struct {
	mu       sync.Mutex
	out      io.Writer
	location *time.Location

	// printed counts the lines already written per window. Keyed by
	// cabal and title rather than index, so a channel window that is
	// closed and reopened does not replay its log.
	printed map[string]int
}

// NewPlain returns a Plain writing to out. A nil location means
// time.Local.
func NewPlain(out io.Writer, location *time.Location) *Plain {
	if location == nil {
		location = time.Local
	}
	return &Plain{out: out, location: location, printed: make(map[string]int)}
}

// Render implements session.Renderer.
func (p *Plain) Render(snapshot session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, index := range snapshot.Invalidated {
		window, ok := snapshot.Window(index)
		if !ok {
			continue
		}
		key := window.Cabal.String() + "/" + window.Title
		start := p.printed[key]
		if start > len(window.Lines) {
			start = 0
		}
		for _, line := range window.Lines[start:] {
			fmt.Fprintf(p.out, "[%s] %s\n", window.Title, plainLine(line, p.location))
		}
		p.printed[key] = len(window.Lines)
	}
}

// ReadInput publishes each line read from in as user input until in
// is exhausted, ctx is done, or the bus closes. End of input does not
// end the session; a script that wants to quit sends /exit.
func ReadInput(ctx context.Context, in io.Reader, bus *session.Bus) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), inputLimit*4)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if !bus.Publish(session.UserInput{Line: scanner.Text()}) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

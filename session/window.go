// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/cabin-chat/cabin/command"
	"github.com/cabin-chat/cabin/lib/ref"
)

// StatusWindow is the index of the permanent status window.
const StatusWindow = 0

// Window is a view onto one channel of one cabal, or the status window.
type Window struct {
	Index   int
	Cabal   ref.CabalKey
	Channel string

	// Unread counts lines appended while the window was not focused.
	Unread int
}

// IsStatus reports whether w is the status window.
func (w *Window) IsStatus() bool { return w.Index == StatusWindow }

// Title is the name shown in the window bar and matched by /win NAME.
func (w *Window) Title() string {
	if w.IsStatus() {
		return "status"
	}
	return "#" + w.Channel
}

// Windows is the window list. Indices increase monotonically and are
// never reused; window 0 always exists.
type Windows struct {
	windows []*Window
	next    int
	active  int
	slab    *util.Slab
}

// NewWindows returns a list holding only the status window, focused.
func NewWindows() *Windows {
	return &Windows{
		windows: []*Window{{Index: StatusWindow}},
		next:    StatusWindow + 1,
		active:  StatusWindow,
	}
}

// Open returns the window for (cabal, channel), creating it with the
// next index if it is not open.
func (w *Windows) Open(cabal ref.CabalKey, channel string) *Window {
	if existing := w.Find(cabal, channel); existing != nil {
		return existing
	}
	window := &Window{Index: w.next, Cabal: cabal, Channel: channel}
	w.next++
	w.windows = append(w.windows, window)
	return window
}

// Find returns the open window for (cabal, channel), or nil.
func (w *Windows) Find(cabal ref.CabalKey, channel string) *Window {
	for _, window := range w.windows {
		if !window.IsStatus() && window.Cabal == cabal && window.Channel == channel {
			return window
		}
	}
	return nil
}

// Get returns the window with index, or nil.
func (w *Windows) Get(index int) *Window {
	for _, window := range w.windows {
		if window.Index == index {
			return window
		}
	}
	return nil
}

// Active returns the focused window.
func (w *Windows) Active() *Window { return w.Get(w.active) }

// Switch focuses the window with index and clears its unread count.
func (w *Windows) Switch(index int) error {
	window := w.Get(index)
	if window == nil {
		return command.NoSuchWindow(strconv.Itoa(index))
	}
	w.active = index
	window.Unread = 0
	return nil
}

// Close removes the window with index. The status window cannot be
// closed. Closing the focused window moves focus to the window before
// it in the list.
func (w *Windows) Close(index int) error {
	if index == StatusWindow {
		return &InvariantViolation{Op: "close window", Detail: "the status window cannot be closed"}
	}
	position := -1
	for i, window := range w.windows {
		if window.Index == index {
			position = i
			break
		}
	}
	if position < 0 {
		return command.NoSuchWindow(strconv.Itoa(index))
	}
	w.windows = append(w.windows[:position], w.windows[position+1:]...)
	if w.active == index {
		w.active = w.windows[position-1].Index
	}
	return nil
}

// List returns the open windows in index order.
func (w *Windows) List() []*Window { return append([]*Window(nil), w.windows...) }

// initMatcher builds fzf's character class tables, which FuzzyMatchV2
// reads but nothing fills in until Init runs.
var initMatcher = sync.OnceFunc(func() { algo.Init("default") })

// Match returns the open window whose title best fuzzy-matches query.
// Ties go to the lower index.
func (w *Windows) Match(query string) (*Window, error) {
	query = strings.TrimPrefix(strings.TrimSpace(query), "#")
	if query == "" {
		return nil, command.NoSuchWindow("(empty name)")
	}
	initMatcher()
	if w.slab == nil {
		w.slab = util.MakeSlab(100*1024, 2048)
	}
	pattern := []rune(strings.ToLower(query))

	var best *Window
	bestScore := 0
	for _, window := range w.windows {
		chars := util.ToChars([]byte(strings.TrimPrefix(window.Title(), "#")))
		result, _ := algo.FuzzyMatchV2(false, true, true, &chars, pattern, false, w.slab)
		if result.Start < 0 {
			continue
		}
		if best == nil || result.Score > bestScore {
			best = window
			bestScore = result.Score
		}
	}
	if best == nil {
		return nil, command.NoSuchWindow(fmt.Sprintf("%q", query))
	}
	return best, nil
}

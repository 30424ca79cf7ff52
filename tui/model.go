// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cabin-chat/cabin/session"
)

// chromeRows is the number of rows not used by the window log: the
// header, the window bar and the input line.
const chromeRows = 3

// inputLimit bounds the input line. Posts are limited further by the
// protocol; this only keeps a runaway paste from growing the buffer.
const inputLimit = 4096

// snapshotMsg delivers a session snapshot to the model.
type snapshotMsg struct {
	snapshot session.Snapshot
}

// Config configures a Model. Submit is required.
type Config struct {
	// Submit receives every line the user enters, including the
	// commands the model types on the user's behalf (window cycling,
	// /exit on interrupt).
	Submit func(line string)

	// Renderer binds styles to an output and colour profile. Nil uses
	// lipgloss's default renderer.
	Renderer *lipgloss.Renderer

	// Theme defaults to DefaultTheme when its palette is unset.
	Theme Theme

	// Keys defaults to DefaultKeyMap when Submit is unbound.
	Keys KeyMap

	// Location is used for line timestamps. Defaults to time.Local.
	Location *time.Location
}

// Model is the bubbletea model for the chat screen.
type Model struct {
	submit   func(string)
	keys     KeyMap
	styles   styles
	location *time.Location
	input    textinput.Model

	snapshot    session.Snapshot
	hasSnapshot bool

	width  int
	height int
	ready  bool

	// scroll is how many rows each window is scrolled back from its
	// newest line. Render-local; the session never sees it.
	scroll map[int]int

	notice           string
	noticeLevel      slog.Level
	noticeGeneration int
}

// NewModel returns a model with an empty screen and a focused input
// line.
func NewModel(config Config) Model {
	renderer := config.Renderer
	if renderer == nil {
		renderer = lipgloss.DefaultRenderer()
	}
	theme := config.Theme
	if theme.NormalText == "" {
		theme = DefaultTheme
	}
	keys := config.Keys
	if len(keys.Submit.Keys()) == 0 {
		keys = DefaultKeyMap
	}
	location := config.Location
	if location == nil {
		location = time.Local
	}

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "type a message or /help"
	input.CharLimit = inputLimit
	input.Focus()

	return Model{
		submit:   config.Submit,
		keys:     keys,
		styles:   newStyles(renderer, theme),
		location: location,
		input:    input,
		scroll:   make(map[int]int),
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		return model, nil

	case snapshotMsg:
		model.snapshot = message.snapshot
		model.hasSnapshot = true
		return model, nil

	case logRecordMsg:
		model.notice = message.Summary
		model.noticeLevel = message.Level
		model.noticeGeneration++
		generation := model.noticeGeneration
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{generation: generation}
		})

	case logRecordFadeMsg:
		if message.generation == model.noticeGeneration {
			model.notice = ""
		}
		return model, nil
	}

	var cmd tea.Cmd
	model.input, cmd = model.input.Update(message)
	return model, cmd
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		model.send("/exit")
		return model, nil

	case key.Matches(message, model.keys.Submit):
		line := model.input.Value()
		model.input.Reset()
		if strings.TrimSpace(line) != "" {
			model.send(line)
			model.scroll[model.snapshot.Active] = 0
		}
		return model, nil

	case key.Matches(message, model.keys.PageUp):
		model.scrollBy(model.bodyHeight())
		return model, nil

	case key.Matches(message, model.keys.PageDown):
		model.scrollBy(-model.bodyHeight())
		return model, nil

	case key.Matches(message, model.keys.Bottom):
		model.scroll[model.snapshot.Active] = 0
		return model, nil

	case key.Matches(message, model.keys.NextWindow):
		model.cycleWindow(1)
		return model, nil

	case key.Matches(message, model.keys.PreviousWindow):
		model.cycleWindow(-1)
		return model, nil
	}

	var cmd tea.Cmd
	model.input, cmd = model.input.Update(message)
	return model, cmd
}

func (model Model) send(line string) {
	if model.submit != nil {
		model.submit(line)
	}
}

// scrollBy moves the active window's scroll position, clamped so the
// oldest line stays reachable but never scrolls off the top.
func (model Model) scrollBy(rows int) {
	active := model.snapshot.Active
	limit := max(len(model.windowRows(model.snapshot.ActiveWindow()))-model.bodyHeight(), 0)
	model.scroll[active] = min(max(model.scroll[active]+rows, 0), limit)
}

// cycleWindow asks the session to focus the next or previous open
// window, wrapping at either end.
func (model Model) cycleWindow(step int) {
	windows := model.snapshot.Windows
	if len(windows) < 2 {
		return
	}
	position := 0
	for index, window := range windows {
		if window.Index == model.snapshot.Active {
			position = index
			break
		}
	}
	next := (position + step + len(windows)) % len(windows)
	model.send(fmt.Sprintf("/win %d", windows[next].Index))
}

func (model Model) bodyHeight() int {
	return max(model.height-chromeRows, 1)
}

// windowRows renders every line of window wrapped to the screen width.
func (model Model) windowRows(window session.WindowView) []string {
	var rows []string
	for _, line := range window.Lines {
		rows = append(rows, model.styledLine(line, model.width)...)
	}
	return rows
}

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "starting cabin..."
	}
	window := model.snapshot.ActiveWindow()

	var builder strings.Builder
	builder.WriteString(model.styles.header.Render(fit(model.headerText(window), model.width)))
	builder.WriteByte('\n')

	height := model.bodyHeight()
	rows := model.windowRows(window)
	end := max(len(rows)-model.scroll[window.Index], 0)
	start := max(end-height, 0)
	visible := rows[start:end]
	for range height - len(visible) {
		builder.WriteByte('\n')
	}
	for _, row := range visible {
		builder.WriteString(row)
		builder.WriteByte('\n')
	}

	builder.WriteString(model.barText(window))
	builder.WriteByte('\n')
	builder.WriteString(model.input.View())
	return builder.String()
}

// headerText is "CABIN <cabal> <title> [win N]", followed by the nick
// and peer count when known.
func (model Model) headerText(window session.WindowView) string {
	cabal := "(no cabal)"
	if !model.snapshot.ActiveCabal.IsZero() {
		cabal = model.snapshot.ActiveCabal.Short()
	}
	title := window.Title
	if title == "" {
		title = "status"
	}
	header := fmt.Sprintf("CABIN %s %s [win %d]", cabal, title, window.Index)
	if window.Topic != "" {
		header += " " + window.Topic
	}
	var extras []string
	if model.snapshot.Nick != "" {
		extras = append(extras, model.snapshot.Nick)
	}
	for _, view := range model.snapshot.Cabals {
		if view.Active {
			extras = append(extras, fmt.Sprintf("%d peers", len(view.Peers)))
		}
	}
	if model.snapshot.ShuttingDown {
		extras = append(extras, "shutting down")
	}
	if len(extras) > 0 {
		header += " | " + strings.Join(extras, " | ")
	}
	return header
}

// barText is the window bar, replaced by a log notice while one is
// showing.
func (model Model) barText(window session.WindowView) string {
	if model.notice != "" {
		style := model.styles.warn
		if model.noticeLevel >= slog.LevelError {
			style = model.styles.err
		}
		return style.Render(fit(model.notice, model.width))
	}

	var parts []string
	for _, view := range model.snapshot.Windows {
		label := fmt.Sprintf("%d:%s", view.Index, view.Title)
		switch {
		case view.Index == model.snapshot.Active:
			parts = append(parts, model.styles.activeWindow.Render(label))
		case view.Unread > 0:
			parts = append(parts, model.styles.unread.Render(fmt.Sprintf("%s(%d)", label, view.Unread)))
		default:
			parts = append(parts, model.styles.faint.Render(label))
		}
	}
	bar := strings.Join(parts, " ")
	if scrolled := model.scroll[window.Index]; scrolled > 0 {
		bar += model.styles.faint.Render(fmt.Sprintf("  [-%d]", scrolled))
	}
	return fit(bar, model.width)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"

	"github.com/cabin-chat/cabin/session"
)

const clockFormat = "15:04"

func stamp(when time.Time, location *time.Location) string {
	if when.IsZero() {
		return "--:--"
	}
	return when.In(location).Format(clockFormat)
}

// displayNick is the name shown for a line's author.
func displayNick(line session.Line) string {
	if line.Nick != "" {
		return line.Nick
	}
	if !line.Author.IsZero() {
		return line.Author.Short()
	}
	return "?"
}

// plainLine formats a line without styling: "[HH:MM] <nick> body" for
// messages, "[HH:MM] -- body" for notices and "[HH:MM] body" for
// status output.
func plainLine(line session.Line, location *time.Location) string {
	switch line.Kind {
	case session.LineMessage:
		return fmt.Sprintf("[%s] <%s> %s", stamp(line.Time, location), displayNick(line), line.Body)
	case session.LineNotice:
		return fmt.Sprintf("[%s] -- %s", stamp(line.Time, location), line.Body)
	default:
		return fmt.Sprintf("[%s] %s", stamp(line.Time, location), line.Body)
	}
}

// styledLine formats a line for the terminal and wraps it to width.
// Message authors are coloured by their key.
func (model Model) styledLine(line session.Line, width int) []string {
	prefix := model.styles.faint.Render("[" + stamp(line.Time, model.location) + "]")
	var text string
	switch line.Kind {
	case session.LineMessage:
		author := model.styles.peers[line.Author.ColourIndex(PaletteSize)].Render("<" + displayNick(line) + ">")
		text = prefix + " " + author + " " + model.styles.normal.Render(line.Body)
	case session.LineNotice:
		text = prefix + " " + model.styles.faint.Render("-- "+line.Body)
	default:
		text = prefix + " " + model.styles.normal.Render(line.Body)
	}
	return wrap(text, width)
}

// wrap breaks text at word boundaries, then hard-breaks words longer
// than width. ANSI sequences do not count toward width.
func wrap(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	wrapped := ansi.Hardwrap(wordwrap.String(text, width), width, true)
	return strings.Split(wrapped, "\n")
}

// fit truncates text to width and pads it so bars fill the row.
func fit(text string, width int) string {
	if width <= 0 {
		return ""
	}
	text = ansi.Truncate(text, width, "…")
	if pad := width - ansi.StringWidth(text); pad > 0 {
		text += strings.Repeat(" ", pad)
	}
	return text
}

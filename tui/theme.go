// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// PaletteSize is the number of peer colours. A peer's colour is
// chosen by ref.PeerID.ColourIndex(PaletteSize), so every client draws
// the same peer in the same colour.
const PaletteSize = 12

// Theme is the colour palette. Colours are ANSI 256 codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	HeaderForeground lipgloss.Color
	HeaderBackground lipgloss.Color

	ActiveWindowForeground lipgloss.Color
	ActiveWindowBackground lipgloss.Color
	UnreadForeground       lipgloss.Color

	WarnForeground  lipgloss.Color
	ErrorForeground lipgloss.Color

	Peers [PaletteSize]lipgloss.Color
}

// PeerColor returns the palette entry at index, wrapping out-of-range
// values.
func (theme Theme) PeerColor(index int) lipgloss.Color {
	if index < 0 {
		index = -index
	}
	return theme.Peers[index%PaletteSize]
}

// DefaultTheme suits a dark 256-colour terminal.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	HeaderForeground: lipgloss.Color("255"),
	HeaderBackground: lipgloss.Color("24"),

	ActiveWindowForeground: lipgloss.Color("255"),
	ActiveWindowBackground: lipgloss.Color("236"),
	UnreadForeground:       lipgloss.Color("220"),

	WarnForeground:  lipgloss.Color("214"),
	ErrorForeground: lipgloss.Color("196"),

	Peers: [PaletteSize]lipgloss.Color{
		lipgloss.Color("196"), // red
		lipgloss.Color("208"), // orange
		lipgloss.Color("220"), // amber
		lipgloss.Color("114"), // green
		lipgloss.Color("43"),  // teal
		lipgloss.Color("75"),  // blue
		lipgloss.Color("141"), // purple
		lipgloss.Color("205"), // pink
		lipgloss.Color("180"), // tan
		lipgloss.Color("150"), // pale green
		lipgloss.Color("117"), // sky
		lipgloss.Color("183"), // lilac
	},
}

// ColorProfile picks the colour profile for output. Colour is off when
// the configuration disables it or NO_COLOR is set.
func ColorProfile(output io.Writer, color bool) termenv.Profile {
	if !color || os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	return termenv.NewOutput(output).EnvColorProfile()
}

// NewRenderer returns a lipgloss renderer bound to output with the
// given profile. Styles built from it render consistently whatever the
// process's stdout is.
func NewRenderer(output io.Writer, profile termenv.Profile) *lipgloss.Renderer {
	renderer := lipgloss.NewRenderer(output, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)
	return renderer
}

// styles are the theme's colours bound to one renderer.
type styles struct {
	header       lipgloss.Style
	faint        lipgloss.Style
	normal       lipgloss.Style
	activeWindow lipgloss.Style
	unread       lipgloss.Style
	warn         lipgloss.Style
	err          lipgloss.Style
	peers        [PaletteSize]lipgloss.Style
}

func newStyles(renderer *lipgloss.Renderer, theme Theme) styles {
	result := styles{
		header: renderer.NewStyle().Bold(true).
			Foreground(theme.HeaderForeground).
			Background(theme.HeaderBackground),
		faint:  renderer.NewStyle().Foreground(theme.FaintText),
		normal: renderer.NewStyle().Foreground(theme.NormalText),
		activeWindow: renderer.NewStyle().Bold(true).
			Foreground(theme.ActiveWindowForeground).
			Background(theme.ActiveWindowBackground),
		unread: renderer.NewStyle().Bold(true).Foreground(theme.UnreadForeground),
		warn:   renderer.NewStyle().Foreground(theme.WarnForeground),
		err:    renderer.NewStyle().Bold(true).Foreground(theme.ErrorForeground),
	}
	for index := range result.peers {
		result.peers[index] = renderer.NewStyle().Foreground(theme.PeerColor(index))
	}
	return result
}

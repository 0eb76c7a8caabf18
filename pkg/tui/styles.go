// Package tui is the operator's steps-mode panel: a Bubble Tea view of
// one object's timeline with skip, open and restart shortcuts.
package tui

import "github.com/charmbracelet/lipgloss"

// Row glyphs convey status without relying on colour alone.
const (
	GlyphPending  = "○"
	GlyphCurrent  = "▸"
	GlyphDone     = "✓"
	GlyphDisabled = "⏭"
	GlyphBlocked  = "⧗"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorBlue   = lipgloss.Color("39")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var runningBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("0")).
	Background(colorYellow).
	Padding(0, 1)

var (
	rowNormal = lipgloss.NewStyle().
			Foreground(colorWhite)

	rowCurrent = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorYellow)

	rowDone = lipgloss.NewStyle().
		Foreground(colorGreen)

	rowDisabled = lipgloss.NewStyle().
			Faint(true)

	rowBlocked = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)
)

var (
	panelBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim)

	panelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan).
			Padding(0, 1)

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorBlue)

	detailValueStyle = lipgloss.NewStyle().
				Foreground(colorWhite)

	messageStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)

var (
	keyStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	keyDescStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	keyBarStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

var spinnerStyle = lipgloss.NewStyle().
	Foreground(colorYellow)

package overlay

import (
	"charm.land/lipgloss/v2"
)

// Rosé Pine Moon palette — mirrors ui/theme.go.
// https://rosepinetheme.com/palette/
var (
	// Base tones
	colorBase    = lipgloss.Color("#232136")
	colorOverlay = lipgloss.Color("#393552")
	colorMuted   = lipgloss.Color("#6e6a86")
	colorSubtle  = lipgloss.Color("#908caa")
	colorText    = lipgloss.Color("#e0def4")

	// Semantic colors
	colorLove = lipgloss.Color("#eb6f92") // error, danger
	colorGold = lipgloss.Color("#f6c177") // warning
	colorFoam = lipgloss.Color("#9ccfd8") // info, running
	colorIris = lipgloss.Color("#c4a7e7") // highlight, primary
)

// BorderStyle is the frame used by every modal overlay (confirmation
// prompts, transient toasts) drawn over the live session view.
var BorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorIris).
	Background(colorBase).
	Foreground(colorText).
	Padding(0, 1)

// TitleStyle highlights an overlay's heading line.
var TitleStyle = lipgloss.NewStyle().Foreground(colorIris).Bold(true)

// ErrorStyle highlights overlay text reporting a Fatal or Conflict failure.
var ErrorStyle = lipgloss.NewStyle().Foreground(colorLove)

// WarnStyle highlights overlay text reporting a Transient failure.
var WarnStyle = lipgloss.NewStyle().Foreground(colorGold)

// MutedStyle de-emphasizes secondary overlay text.
var MutedStyle = lipgloss.NewStyle().Foreground(colorMuted)

// BlurredBorderStyle is BorderStyle for an overlay that has lost focus.
var BlurredBorderStyle = BorderStyle.BorderForeground(colorSubtle).Background(colorOverlay)

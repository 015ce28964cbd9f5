package ui

import "charm.land/lipgloss/v2"

// Rosé Pine Moon palette
// https://rosepinetheme.com/palette/
var (
	// Base tones
	ColorBase    = lipgloss.Color("#232136")
	ColorSurface = lipgloss.Color("#2a273f")
	ColorOverlay = lipgloss.Color("#393552")
	ColorMuted   = lipgloss.Color("#6e6a86")
	ColorSubtle  = lipgloss.Color("#908caa")
	ColorText    = lipgloss.Color("#e0def4")

	// Semantic colors
	ColorLove = lipgloss.Color("#eb6f92") // error, danger
	ColorGold = lipgloss.Color("#f6c177") // warning
	ColorRose = lipgloss.Color("#ea9a97") // accent, secondary
	ColorPine = lipgloss.Color("#3e8fb0") // link
	ColorFoam = lipgloss.Color("#9ccfd8") // info, running
	ColorIris = lipgloss.Color("#c4a7e7") // highlight, primary

	// Gradient endpoints for the focused tab label
	GradientStart = "#9ccfd8" // foam
	GradientEnd   = "#c4a7e7" // iris

	// Diff-specific (keep readable semantic greens/reds)
	ColorDiffAdd    = lipgloss.Color("#9ccfd8") // foam for additions
	ColorDiffDelete = lipgloss.Color("#eb6f92") // love for deletions
	ColorDiffHunk   = lipgloss.Color("#c4a7e7") // iris for hunk headers
)

// Status-line styles, one per Session status.
var (
	StatusStarting   = lipgloss.NewStyle().Foreground(ColorSubtle)
	StatusActive     = lipgloss.NewStyle().Foreground(ColorFoam)
	StatusIdle       = lipgloss.NewStyle().Foreground(ColorMuted)
	StatusNeedsInput = lipgloss.NewStyle().Foreground(ColorGold).Bold(true)
	StatusDead       = lipgloss.NewStyle().Foreground(ColorLove)
)

// TreeLabelStyle renders a task or session label in the navigation tree.
var TreeLabelStyle = lipgloss.NewStyle().Foreground(ColorText)

// TreeSelectedStyle renders the currently focused tree row.
var TreeSelectedStyle = lipgloss.NewStyle().Foreground(ColorBase).Background(ColorIris).Bold(true)

// MutedStyle de-emphasizes secondary text, such as an empty-state message.
var MutedStyle = lipgloss.NewStyle().Foreground(ColorMuted)

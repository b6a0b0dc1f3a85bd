package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/alsoamit/manager-dash-sub001/internal/cache"
	"github.com/alsoamit/manager-dash-sub001/internal/client"
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#3b82f6")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// Reusable styles.
var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorWarning)
)

// StateColor returns the color for a connection state.
func StateColor(s client.State) lipgloss.Color {
	switch s {
	case client.Connected:
		return ColorHealthy
	case client.Connecting, client.Reconnecting:
		return ColorWarning
	case client.Failed:
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// StatusColor returns the color for a collection load status.
func StatusColor(s cache.Status) lipgloss.Color {
	switch s {
	case cache.Ready:
		return ColorHealthy
	case cache.Loading:
		return ColorWarning
	case cache.Error:
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// StateGlyph returns a glyph for a connection state.
func StateGlyph(s client.State) string {
	switch s {
	case client.Connected:
		return "●"
	case client.Connecting, client.Reconnecting:
		return "◌"
	case client.Failed:
		return "✗"
	default:
		return "○"
	}
}

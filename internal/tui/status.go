package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/alsoamit/manager-dash-sub001/internal/client"
)

// statusBar is the top line: connection, session and report date.
type statusBar struct {
	Conn       client.Status
	ReportDate string
	Suspended  bool
	Width      int
}

func (s statusBar) View() string {
	width := s.Width
	if width < 40 {
		width = 40
	}

	connStr := lipgloss.NewStyle().Foreground(StateColor(s.Conn.State)).
		Render(StateGlyph(s.Conn.State) + " " + s.Conn.State.String())
	if s.Conn.State == client.Reconnecting && s.Conn.RetryCount > 0 {
		connStr += StyleDimmed.Render(fmt.Sprintf(" (retry %d)", s.Conn.RetryCount))
	}

	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")
	content := connStr
	if s.Conn.SessionID != "" {
		content += sep + StyleDimmed.Render("sid "+s.Conn.SessionID)
	}
	content += sep + StyleHeader.Render("report "+s.ReportDate)
	if s.Suspended {
		content += sep + lipgloss.NewStyle().Foreground(ColorDanger).Render("sync suspended")
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder).
		Render(content)
}

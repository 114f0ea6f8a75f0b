// Package tui renders a reveal Engine in the terminal with Bubble Tea.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	accentColor  = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

// Styles for the reveal view.
var (
	// TitleStyle for the stream header.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			MarginBottom(1)

	// TextStyle for revealed text.
	TextStyle = lipgloss.NewStyle()

	// CursorStyle for the block cursor shown while revealing.
	CursorStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	// TruncatedStyle marks text cut short by a transport failure.
	TruncatedStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Faint(true)

	// StatusStyle for the status line.
	StatusStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// HelpStyle for key help.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// PhaseStyle returns the status color for a phase name.
func PhaseStyle(phase string) lipgloss.Style {
	switch phase {
	case "complete":
		return lipgloss.NewStyle().Foreground(successColor)
	case "streaming", "typing":
		return lipgloss.NewStyle().Foreground(warningColor)
	default:
		return lipgloss.NewStyle().Foreground(mutedColor)
	}
}

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	CompletedStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	FailedStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	SkippedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Italic(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)
)

// GroupTypeStyle returns the badge style for a group type.
func GroupTypeStyle(t core.GroupType) lipgloss.Style {
	switch t {
	case core.GroupFanout:
		return lipgloss.NewStyle().Foreground(ColorFanout).Bold(true)
	case core.GroupReport, core.GroupSideEffect:
		return lipgloss.NewStyle().Foreground(ColorReport)
	default:
		return lipgloss.NewStyle().Foreground(ColorSingle)
	}
}

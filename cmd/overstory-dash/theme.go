package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual styling for the overstory dashboard.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the default theme.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),
		Success: lipgloss.Color("10"),
		Warning: lipgloss.Color("11"),
		Error:   lipgloss.Color("9"),
		Muted:   lipgloss.Color("240"),
	}
}

// Styles holds the derived lipgloss styles the views share.
type Styles struct {
	Title       lipgloss.Style
	TabOn       lipgloss.Style
	TabOff      lipgloss.Style
	Muted       lipgloss.Style
	StatusOK    lipgloss.Style
	StatusWarn  lipgloss.Style
	StatusError lipgloss.Style
}

// NewStyles derives the shared styles from a theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Title:       lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		TabOn:       lipgloss.NewStyle().Bold(true).Underline(true),
		TabOff:      lipgloss.NewStyle().Foreground(theme.Muted),
		Muted:       lipgloss.NewStyle().Foreground(theme.Muted),
		StatusOK:    lipgloss.NewStyle().Foreground(theme.Success),
		StatusWarn:  lipgloss.NewStyle().Foreground(theme.Warning),
		StatusError: lipgloss.NewStyle().Foreground(theme.Error),
	}
}

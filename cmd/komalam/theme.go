package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Theme defines the visual styling for komalam CLI output.
type Theme struct {
	Title lipgloss.Style
	Score lipgloss.Style
	Meta  lipgloss.Style
	Warn  lipgloss.Style
}

// DefaultTheme returns the styled theme used on interactive terminals.
func DefaultTheme() Theme {
	return Theme{
		Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Score: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Meta:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// PlainTheme returns unstyled passthrough styles for pipes and scripts.
func PlainTheme() Theme {
	return Theme{
		Title: lipgloss.NewStyle(),
		Score: lipgloss.NewStyle(),
		Meta:  lipgloss.NewStyle(),
		Warn:  lipgloss.NewStyle(),
	}
}

// activeTheme picks styled output only when stdout is a real terminal and
// NO_COLOR is unset.
func activeTheme() Theme {
	if os.Getenv("NO_COLOR") != "" {
		return PlainTheme()
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return PlainTheme()
	}
	return DefaultTheme()
}

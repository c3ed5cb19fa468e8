// Package ui renders the live progress display for a research run.
package ui

import "github.com/charmbracelet/lipgloss"

// Colors follow the researchNERD palette: lime green for success and
// activity, blue for informational state, red for failures.
var (
	accentGreen = lipgloss.Color("#8BC34A")
	infoBlue    = lipgloss.Color("#2196F3")
	errorRed    = lipgloss.Color("#e53935")
	mutedGray   = lipgloss.Color("244")
)

var (
	queryStyle   = lipgloss.NewStyle().Bold(true)
	phaseStyle   = lipgloss.NewStyle().Foreground(infoBlue)
	counterStyle = lipgloss.NewStyle().Foreground(mutedGray)
	doneStyle    = lipgloss.NewStyle().Foreground(accentGreen).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorRed).Bold(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(accentGreen)
)

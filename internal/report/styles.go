package report

import "github.com/charmbracelet/lipgloss"

var (
	colorGreen  = lipgloss.Color("#00FF00")
	colorYellow = lipgloss.Color("#FFFF00")
	colorRed    = lipgloss.Color("#FF0000")
	colorCyan   = lipgloss.Color("#00FFFF")
	colorGray   = lipgloss.Color("#888888")

	okMark   = lipgloss.NewStyle().Foreground(colorGreen).SetString("✓")
	warnMark = lipgloss.NewStyle().Foreground(colorYellow).SetString("⚠")
	failMark = lipgloss.NewStyle().Foreground(colorRed).SetString("✗")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	barStyle = lipgloss.NewStyle().
			Foreground(colorGray)
)

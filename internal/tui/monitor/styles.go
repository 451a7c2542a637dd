package monitor

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	colorRunning = lipgloss.Color("76")  // green
	colorDead    = lipgloss.Color("196") // bright red
	colorAccent  = lipgloss.Color("39")  // blue
	colorMuted   = lipgloss.Color("242") // gray
	colorWhite   = lipgloss.Color("15")
)

// Styles for the monitor TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	rowStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	runningStyle = lipgloss.NewStyle().
			Foreground(colorRunning)

	terminatedStyle = lipgloss.NewStyle().
			Foreground(colorDead)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	unreadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorDead)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// statusCell renders a padded runtime status with its state color.
func statusCell(status string, width int) string {
	padded := pad(status, width)
	switch status {
	case "running":
		return runningStyle.Render(padded)
	case "terminated":
		return terminatedStyle.Render(padded)
	default:
		return mutedStyle.Render(padded)
	}
}

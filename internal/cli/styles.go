package cli

import "github.com/charmbracelet/lipgloss"

// Adaptive colors that work on light and dark terminals.
var (
	colorGreen = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	colorRed   = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#FF4672"}
	colorAmber = lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"}
	colorDimFg = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
)

var (
	residentialStyle = lipgloss.NewStyle().
				Foreground(colorGreen).
				Bold(true)

	datacenterStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	unknownStyle = lipgloss.NewStyle().
			Foreground(colorAmber)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDimFg)
)

func labelStyle(label string) lipgloss.Style {
	switch label {
	case "residential":
		return residentialStyle
	case "datacenter":
		return datacenterStyle
	default:
		return unknownStyle
	}
}

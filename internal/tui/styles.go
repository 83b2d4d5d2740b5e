package tui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the console.
var (
	ColorRed    = lipgloss.Color("#FF5F5F")
	ColorGreen  = lipgloss.Color("#5FFF87")
	ColorYellow = lipgloss.Color("#FFD75F")
	ColorCyan   = lipgloss.Color("#5FD7FF")
	ColorGray   = lipgloss.Color("#808080")
	ColorWhite  = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	StateStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorGreen)

	BusyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorYellow)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	CountdownStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite).
			Background(lipgloss.Color("#AF005F")).
			Padding(0, 2)

	BarStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	PoemStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)
)

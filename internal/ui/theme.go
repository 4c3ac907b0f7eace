package ui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette.
var (
	ColorGreen  = lipgloss.Color("#a6e3a1")
	ColorBlue   = lipgloss.Color("#89b4fa")
	ColorYellow = lipgloss.Color("#f9e2af")
	ColorRed    = lipgloss.Color("#f38ba8")
	ColorTeal   = lipgloss.Color("#94e2d5")
	ColorMauve  = lipgloss.Color("#cba6f7")
	ColorMuted  = lipgloss.Color("#5a6278")
	ColorBright = lipgloss.Color("#cdd6f4")
)

var (
	styleHeader    = lipgloss.NewStyle().Bold(true).Foreground(ColorMauve)
	styleName      = lipgloss.NewStyle().Foreground(ColorBright)
	styleSize      = lipgloss.NewStyle().Foreground(ColorMuted)
	styleEmpty     = lipgloss.NewStyle().Foreground(ColorMuted).Italic(true)
	styleLive      = lipgloss.NewStyle().Foreground(ColorGreen)
	styleDead      = lipgloss.NewStyle().Foreground(ColorYellow)
	styleRate      = lipgloss.NewStyle().Foreground(ColorTeal)
	styleSparkline = lipgloss.NewStyle().Foreground(ColorBlue)
	styleError     = lipgloss.NewStyle().Foreground(ColorRed)
)

// painter applies styles only when color output is enabled.
type painter bool

func (p painter) paint(s lipgloss.Style, text string) string {
	if !p {
		return text
	}
	return s.Render(text)
}

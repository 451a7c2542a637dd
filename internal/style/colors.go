// Package style defines the fixed team color palette and its terminal
// mappings. Members are assigned a palette color by join order; the same
// color drives mailbox payloads, tmux pane borders, and CLI rendering.
package style

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color is one entry of the closed team palette.
type Color string

// The palette in assignment order. Member N gets Palette[N % 8].
const (
	Red    Color = "red"
	Blue   Color = "blue"
	Green  Color = "green"
	Yellow Color = "yellow"
	Purple Color = "purple"
	Orange Color = "orange"
	Pink   Color = "pink"
	Cyan   Color = "cyan"
)

// Palette lists the assignable colors in fixed order.
var Palette = []Color{Red, Blue, Green, Yellow, Purple, Orange, Pink, Cyan}

// Assign returns the palette color for a member joined at the given index.
func Assign(index int) Color {
	n := len(Palette)
	i := index % n
	if i < 0 {
		i += n
	}
	return Palette[i]
}

// IsValid reports whether name is a palette color.
func IsValid(name string) bool {
	for _, c := range Palette {
		if string(c) == name {
			return true
		}
	}
	return false
}

// tmuxBorders maps palette colors to tmux border color names. tmux has no
// named purple/orange/pink, so those map to magenta and 256-color indexes.
var tmuxBorders = map[Color]string{
	Red:    "red",
	Blue:   "blue",
	Green:  "green",
	Yellow: "yellow",
	Purple: "magenta",
	Orange: "colour208",
	Pink:   "colour205",
	Cyan:   "cyan",
}

// TmuxBorder returns the tmux border color for a palette color, or
// "default" for anything outside the palette.
func TmuxBorder(c Color) string {
	if border, ok := tmuxBorders[c]; ok {
		return border
	}
	return "default"
}

// ansiColors maps palette colors to ANSI/256 codes for terminal rendering.
var ansiColors = map[Color]lipgloss.Color{
	Red:    lipgloss.Color("1"),
	Blue:   lipgloss.Color("4"),
	Green:  lipgloss.Color("2"),
	Yellow: lipgloss.Color("3"),
	Purple: lipgloss.Color("5"),
	Orange: lipgloss.Color("208"),
	Pink:   lipgloss.Color("205"),
	Cyan:   lipgloss.Color("6"),
}

// Enabled reports whether stdout supports colored output.
func Enabled() bool {
	return termenv.EnvColorProfile() != termenv.Ascii && os.Getenv("NO_COLOR") == ""
}

// Render wraps s in the palette color when color output is enabled.
func Render(c Color, s string) string {
	ansi, ok := ansiColors[c]
	if !ok || !Enabled() {
		return s
	}
	return lipgloss.NewStyle().Foreground(ansi).Render(s)
}

// Label renders a bold colored label, used for agent names in tail and
// monitor output.
func Label(c Color, s string) string {
	ansi, ok := ansiColors[c]
	if !ok || !Enabled() {
		return s
	}
	return lipgloss.NewStyle().Foreground(ansi).Bold(true).Render(s)
}

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/HexSleeves/apiary/internal/hive"
)

// Apiary brand colors
var (
	colorGold    = lipgloss.Color("#F5A623")
	colorAmber   = lipgloss.Color("#E8912D")
	colorHoney   = lipgloss.Color("#FFD700")
	colorDimGray = lipgloss.Color("#555555")
	colorGreen   = lipgloss.Color("#50C878")
	colorRed     = lipgloss.Color("#FF6B6B")
	colorBlue    = lipgloss.Color("#5B9BD5")
	colorCyan    = lipgloss.Color("#88C0D0")
	colorWhite   = lipgloss.Color("#E6E6E6")
	colorSubtle  = lipgloss.Color("#888888")
)

var (
	// Panel borders
	hiveBorder = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorGold).
		Padding(0, 1)

	entranceBorder = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAmber).
		Padding(0, 1)

	feedBorder = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBlue).
		Padding(0, 1)

	statusBar = lipgloss.NewStyle().
		Foreground(colorHoney).
		Bold(true).
		Padding(0, 1)

	// Text styles
	titleStyle = lipgloss.NewStyle().
		Foreground(colorGold).
		Bold(true)

	subtleStyle = lipgloss.NewStyle().
		Foreground(colorSubtle)

	valueStyle = lipgloss.NewStyle().
		Foreground(colorWhite).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
		Foreground(colorRed)

	successStyle = lipgloss.NewStyle().
		Foreground(colorGreen)

	// Event kind styles
	kindStyles = map[hive.Kind]lipgloss.Style{
		hive.KindEntered:    lipgloss.NewStyle().Foreground(colorGreen),
		hive.KindExited:     lipgloss.NewStyle().Foreground(colorCyan),
		hive.KindWaiting:    lipgloss.NewStyle().Foreground(colorAmber),
		hive.KindDied:       lipgloss.NewStyle().Foreground(colorDimGray),
		hive.KindFailed:     lipgloss.NewStyle().Foreground(colorRed),
		hive.KindLaid:       lipgloss.NewStyle().Foreground(colorHoney),
		hive.KindSkipped:    lipgloss.NewStyle().Foreground(colorAmber),
		hive.KindResized:    lipgloss.NewStyle().Foreground(colorBlue).Bold(true),
		hive.KindDegenerate: lipgloss.NewStyle().Foreground(colorRed).Bold(true),
		hive.KindClosed:     lipgloss.NewStyle().Foreground(colorRed),
	}
)

func kindStyle(kind hive.Kind) lipgloss.Style {
	if style, ok := kindStyles[kind]; ok {
		return style
	}
	return subtleStyle
}

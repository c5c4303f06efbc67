package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/mirror/internal/config"
)

// Catppuccin Mocha palette, mutable so config can override.
var (
	ColorGreen  = lipgloss.Color("#a6e3a1")
	ColorYellow = lipgloss.Color("#f9e2af")
	ColorRed    = lipgloss.Color("#f38ba8")
	ColorMuted  = lipgloss.Color("#5a6278")
	ColorBright = lipgloss.Color("#cdd6f4")
)

// Pre-built styles, rebuilt by rebuildStyles() after color changes.
var (
	styleAdd    lipgloss.Style
	styleChange lipgloss.Style
	styleRemove lipgloss.Style
	styleEqual  lipgloss.Style
	styleKey    lipgloss.Style
	styleSize   lipgloss.Style
)

func init() {
	rebuildStyles()
}

func rebuildStyles() {
	styleAdd = lipgloss.NewStyle().Bold(true).Foreground(ColorGreen)
	styleChange = lipgloss.NewStyle().Bold(true).Foreground(ColorYellow)
	styleRemove = lipgloss.NewStyle().Bold(true).Foreground(ColorRed)
	styleEqual = lipgloss.NewStyle().Foreground(ColorMuted)
	styleKey = lipgloss.NewStyle().Foreground(ColorBright)
	styleSize = lipgloss.NewStyle().Foreground(ColorMuted)
}

// ApplyTheme overrides colors from a config ThemeConfig and rebuilds all styles.
func ApplyTheme(tc config.ThemeConfig) {
	if tc.Green != nil {
		ColorGreen = lipgloss.Color(*tc.Green)
	}
	if tc.Yellow != nil {
		ColorYellow = lipgloss.Color(*tc.Yellow)
	}
	if tc.Red != nil {
		ColorRed = lipgloss.Color(*tc.Red)
	}
	if tc.Muted != nil {
		ColorMuted = lipgloss.Color(*tc.Muted)
	}
	if tc.Bright != nil {
		ColorBright = lipgloss.Color(*tc.Bright)
	}
	rebuildStyles()
}

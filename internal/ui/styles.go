// Package ui renders the workspace chrome: the terminal panel, its status
// bar, and the theme handling shared by every visual component.
package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
	dark "github.com/thiagokokada/dark-mode-go"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

var darkColors = struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red         lipgloss.Color
}{
	Bg:      lipgloss.Color("#16161e"),
	Surface: lipgloss.Color("#1f2430"),
	Border:  lipgloss.Color("#3b4261"),
	Text:    lipgloss.Color("#c8d3f5"),
	TextDim: lipgloss.Color("#7a88cf"),
	Accent:  lipgloss.Color("#82aaff"),
	Green:   lipgloss.Color("#c3e88d"),
	Yellow:  lipgloss.Color("#ffc777"),
	Red:     lipgloss.Color("#ff757f"),
}

var lightColors = struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red         lipgloss.Color
}{
	Bg:      lipgloss.Color("#e1e2e7"),
	Surface: lipgloss.Color("#d0d1d9"),
	Border:  lipgloss.Color("#9aa5ce"),
	Text:    lipgloss.Color("#3760bf"),
	TextDim: lipgloss.Color("#848cb5"),
	Accent:  lipgloss.Color("#2e7de9"),
	Green:   lipgloss.Color("#587539"),
	Yellow:  lipgloss.Color("#8c6c3e"),
	Red:     lipgloss.Color("#c64343"),
}

// Active color variables (set by InitTheme)
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
)

// themeMu protects the global color/style variables during live theme
// switches.
var themeMu sync.RWMutex

// InitTheme sets the active color palette. Must be called before rendering.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	colors := darkColors
	currentTheme = ThemeDark
	if theme == "light" {
		colors = lightColors
		currentTheme = ThemeLight
	}
	ColorBg = colors.Bg
	ColorSurface = colors.Surface
	ColorBorder = colors.Border
	ColorText = colors.Text
	ColorTextDim = colors.TextDim
	ColorAccent = colors.Accent
	ColorGreen = colors.Green
	ColorYellow = colors.Yellow
	ColorRed = colors.Red
	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	return currentTheme
}

// DetectTheme picks the startup theme from the OS appearance. Detection
// failures default to dark.
func DetectTheme() string {
	isDark, err := dark.IsDarkMode()
	if err != nil || isDark {
		return "dark"
	}
	return "light"
}

func init() {
	InitTheme("dark")
}

// Shared styles
var (
	PanelBorderStyle lipgloss.Style
	DividerStyle     lipgloss.Style
	StatusBarStyle   lipgloss.Style
	StatusOKStyle    lipgloss.Style
	StatusWarnStyle  lipgloss.Style
	StatusBadStyle   lipgloss.Style
	TitleStyle       lipgloss.Style
	DimStyle         lipgloss.Style
	PromptBoxStyle   lipgloss.Style
	ToastStyle       lipgloss.Style
)

func initStyles() {
	PanelBorderStyle = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(ColorBorder)

	DividerStyle = lipgloss.NewStyle().
		Foreground(ColorBorder)

	StatusBarStyle = lipgloss.NewStyle().
		Background(ColorSurface).
		Foreground(ColorTextDim).
		Padding(0, 1)

	StatusOKStyle = lipgloss.NewStyle().Foreground(ColorGreen)
	StatusWarnStyle = lipgloss.NewStyle().Foreground(ColorYellow)
	StatusBadStyle = lipgloss.NewStyle().Foreground(ColorRed)

	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent)

	DimStyle = lipgloss.NewStyle().Foreground(ColorTextDim)

	PromptBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1)

	ToastStyle = lipgloss.NewStyle().
		Background(ColorYellow).
		Foreground(ColorBg).
		Padding(0, 1)
}

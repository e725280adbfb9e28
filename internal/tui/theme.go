package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

type ThemeName string

const (
	ThemePorcelain ThemeName = "porcelain"
	ThemeMidnight  ThemeName = "midnight"
)

type Theme struct {
	Name ThemeName

	// Colors
	TextPrimary lipgloss.AdaptiveColor
	TextMuted   lipgloss.AdaptiveColor
	TextFaint   lipgloss.AdaptiveColor

	Accent   lipgloss.AdaptiveColor
	Success  lipgloss.AdaptiveColor
	Warn     lipgloss.AdaptiveColor
	Error    lipgloss.AdaptiveColor
	Border   lipgloss.AdaptiveColor
	BorderHi lipgloss.AdaptiveColor

	// Styles
	TopBar      lipgloss.Style
	TopBarTitle lipgloss.Style
	TopBarBadge lipgloss.Style
	TopBarMeta  lipgloss.Style

	Pane        lipgloss.Style
	PaneFocused lipgloss.Style
	PaneTitle   lipgloss.Style
	Footer      lipgloss.Style
	InputBox    lipgloss.Style
	InputBoxF   lipgloss.Style
	Spinner     lipgloss.Style

	ErrorBanner lipgloss.Style
	InfoBanner  lipgloss.Style
	Caption     lipgloss.Style

	CardSel     lipgloss.Style
	Card        lipgloss.Style
	RowSel      lipgloss.Style
	RowMuted    lipgloss.Style
	ProgressBar lipgloss.Style
}

func NewTheme() Theme {
	name := ThemeName(os.Getenv("CAPTIONIT_THEME"))
	if name == "" {
		name = ThemePorcelain
	}

	if os.Getenv("CAPTIONIT_NO_COLOR") == "1" {
		return newNoColorTheme()
	}

	switch name {
	case ThemeMidnight:
		return newMidnightTheme()
	default:
		return newPorcelainTheme()
	}
}

func (t Theme) finish() Theme {
	t.TopBar = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.TopBarTitle = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.TopBarBadge = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.TopBarMeta = lipgloss.NewStyle().Foreground(t.TextMuted)

	t.Pane = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(t.Border).Padding(0, 1)
	t.PaneFocused = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(t.BorderHi).Padding(0, 1)
	t.PaneTitle = lipgloss.NewStyle().Bold(true).Foreground(t.TextMuted)
	t.Footer = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.InputBox = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(t.Border).Padding(0, 1)
	t.InputBoxF = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(t.BorderHi).Padding(0, 1)
	t.Spinner = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)

	t.ErrorBanner = lipgloss.NewStyle().Bold(true).Foreground(t.Error).Border(lipgloss.RoundedBorder()).BorderForeground(t.Error).Padding(0, 1)
	t.InfoBanner = lipgloss.NewStyle().Foreground(t.Success).Border(lipgloss.RoundedBorder()).BorderForeground(t.Success).Padding(0, 1)
	t.Caption = lipgloss.NewStyle().Foreground(t.TextPrimary).Border(lipgloss.RoundedBorder()).BorderForeground(t.BorderHi).Padding(0, 2)

	t.CardSel = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.Card = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.RowSel = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.RowMuted = lipgloss.NewStyle().Foreground(t.TextFaint)
	t.ProgressBar = lipgloss.NewStyle().Foreground(t.Accent)
	return t
}

func newNoColorTheme() Theme {
	return Theme{
		Name:        "no-color",
		TextPrimary: lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#333333", Dark: "#dddddd"},
		TextFaint:   lipgloss.AdaptiveColor{Light: "#555555", Dark: "#bbbbbb"},
		Border:      lipgloss.AdaptiveColor{Light: "#555555", Dark: "#777777"},
		BorderHi:    lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"},
	}.finish()
}

func newPorcelainTheme() Theme {
	return Theme{
		Name:        ThemePorcelain,
		TextPrimary: lipgloss.AdaptiveColor{Light: "#1d2433", Dark: "#f2f2f2"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#4a5568", Dark: "#c7c7c7"},
		TextFaint:   lipgloss.AdaptiveColor{Light: "#718096", Dark: "#9aa0a6"},

		Accent:   lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#7aa2ff"},
		Success:  lipgloss.AdaptiveColor{Light: "#0f766e", Dark: "#46d1b7"},
		Warn:     lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#f4b27d"},
		Error:    lipgloss.AdaptiveColor{Light: "#b42318", Dark: "#ff7a7a"},
		Border:   lipgloss.AdaptiveColor{Light: "#cbd5e0", Dark: "#3a3a3a"},
		BorderHi: lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#7aa2ff"},
	}.finish()
}

func newMidnightTheme() Theme {
	return Theme{
		Name:        ThemeMidnight,
		TextPrimary: lipgloss.AdaptiveColor{Light: "#111827", Dark: "#eaeaea"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#374151", Dark: "#b7b7b7"},
		TextFaint:   lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#8d8d8d"},

		Accent:   lipgloss.AdaptiveColor{Light: "#2563eb", Dark: "#5cc8ff"},
		Success:  lipgloss.AdaptiveColor{Light: "#059669", Dark: "#46d1b7"},
		Warn:     lipgloss.AdaptiveColor{Light: "#d97706", Dark: "#f4b27d"},
		Error:    lipgloss.AdaptiveColor{Light: "#dc2626", Dark: "#ff7a7a"},
		Border:   lipgloss.AdaptiveColor{Light: "#9ca3af", Dark: "#2a2a2a"},
		BorderHi: lipgloss.AdaptiveColor{Light: "#2563eb", Dark: "#5cc8ff"},
	}.finish()
}

package tui

import "github.com/charmbracelet/lipgloss"

const (
	normalColor = lipgloss.Color("#6272a4")
	activeColor = lipgloss.Color("#ff79c6")
	errorColor  = lipgloss.Color("#ff5555")
	okColor     = lipgloss.Color("#50fa7b")
	warnColor   = lipgloss.Color("#f1fa8c")
	textColor   = lipgloss.Color("#f8f8f2")
)

var sectionStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder(), true).Padding(0).Margin(0)

var (
	tabStyle       = lipgloss.NewStyle().Foreground(normalColor).Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().Foreground(activeColor).Bold(true).Underline(true).Padding(0, 1)
	titleStyle     = lipgloss.NewStyle().Foreground(textColor).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(normalColor)
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	okStyle        = lipgloss.NewStyle().Foreground(okColor)
	labelStyle     = lipgloss.NewStyle().Foreground(activeColor).Bold(true)

	errorBannerStyle = lipgloss.NewStyle().Foreground(textColor).Background(errorColor).Padding(0, 1)
	infoBannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#282a36")).Background(warnColor).Padding(0, 1)
)

package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	linkForegroundColor = lipgloss.AdaptiveColor{Light: "#000099", Dark: "#9F9FFF"}
	linkStyle           = lipgloss.NewStyle().Foreground(linkForegroundColor).Underline(true)
	textStyleColor      = lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"}
	mutedStyleColor     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	warningStyleColor   = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
	errorStyleColor     = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	titleStyleColor     = lipgloss.AdaptiveColor{Light: "#071330", Dark: "#F652A0"}
)

func Title(text string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(titleStyleColor).Render(text)
}

func Bold(text string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(textStyleColor).Render(text)
}

func Muted(text string) string {
	return lipgloss.NewStyle().Foreground(mutedStyleColor).Render(text)
}

func Warning(text string) string {
	return lipgloss.NewStyle().Foreground(warningStyleColor).Render(" ! " + text)
}

func Error(text string) string {
	return lipgloss.NewStyle().Foreground(errorStyleColor).Render(" ✕ " + text)
}

func Link(url string) string {
	return linkStyle.Render(url)
}

// MaxWidth truncates text to width display cells, marking the cut with "...".
func MaxWidth(text string, width int) string {
	if lipgloss.Width(text) <= width || width < 4 {
		return text
	}
	runes := []rune(text)
	for lipgloss.Width(string(runes)) > width-3 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

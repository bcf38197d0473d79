package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/burnwatch/internal/tui/theme"
)

// Tabs are the dashboard views, selected by number key.
var Tabs = []string{"Live", "History"}

// RenderTabBar renders the tab names with the active one highlighted.
func RenderTabBar(active int) string {
	t := theme.Active
	on := lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Padding(0, 1)
	off := lipgloss.NewStyle().Foreground(t.TextMuted).Padding(0, 1)

	parts := make([]string, len(Tabs))
	for i, name := range Tabs {
		label := tabLabel(i, name)
		if i == active {
			parts[i] = on.Render(label)
		} else {
			parts[i] = off.Render(label)
		}
	}
	return strings.Join(parts, lipgloss.NewStyle().Foreground(t.TextDim).Render("│"))
}

// TabVisualWidth returns the rendered width of tab i, padding included.
func TabVisualWidth(i int) int {
	return lipgloss.Width(tabLabel(i, Tabs[i])) + 2
}

func tabLabel(i int, name string) string {
	return string(rune('1'+i)) + " " + name
}

// RenderStatusBar renders the bottom status bar with left and right text.
func RenderStatusBar(width int, left, right string) string {
	style := lipgloss.NewStyle().Foreground(theme.Active.TextMuted).Width(width)
	padding := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return style.Render(left + strings.Repeat(" ", padding) + right)
}

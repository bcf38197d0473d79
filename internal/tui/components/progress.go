package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/tui/theme"
)

// BlockBar renders how far a billing block is through its window, colored
// by its burn-rate level, followed by the time left.
func BlockBar(label string, pct float64, level model.Level, remaining string, labelW, barWidth int) string {
	t := theme.Active
	pct = min(max(pct, 0), 1)

	bar := progress.New(
		progress.WithSolidFill(string(t.Level(level))),
		progress.WithWidth(max(barWidth, 4)),
		progress.WithoutPercentage(),
	)
	bar.EmptyColor = string(t.TextDim)

	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	pctStyle := lipgloss.NewStyle().Foreground(t.Level(level)).Bold(true)
	leftStyle := lipgloss.NewStyle().Foreground(t.TextDim)

	return labelStyle.Render(fmt.Sprintf("%-*s", labelW, label)) + " " +
		bar.ViewAs(pct) + " " +
		pctStyle.Render(fmt.Sprintf("%3.0f%%", pct*100)) + "  " +
		leftStyle.Render(remaining)
}

// LevelBadge renders a level name in its color.
func LevelBadge(level model.Level) string {
	return lipgloss.NewStyle().Foreground(theme.Active.Level(level)).Bold(true).Render(level.String())
}

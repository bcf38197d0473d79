// Package tui provides the interactive Bubble Tea watch dashboard.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/burnwatch/internal/cli"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/tui/components"
	"github.com/theirongolddev/burnwatch/internal/tui/theme"
)

const (
	tabLive = iota
	tabHistory
)

// trendLen bounds the tokens/min samples kept for the sparkline.
const trendLen = 120

// Source is the live view the dashboard renders. *engine.Engine satisfies it.
type Source interface {
	Subscribe(buffer int) (<-chan model.RealtimeStats, func())
	History() []model.SessionBlock
	Window() time.Duration
}

// StatsMsg carries a snapshot from the engine.
type StatsMsg model.RealtimeStats

// closedMsg is sent when the subscription channel closes.
type closedMsg struct{}

type tickMsg struct{}

// App is the root Bubble Tea model.
type App struct {
	src     Source
	updates <-chan model.RealtimeStats
	cancel  func()

	stats   model.RealtimeStats
	history []model.SessionBlock
	trend   []float64
	loaded  bool
	closed  bool

	activeTab int
	width     int
	height    int
	now       func() time.Time
}

// NewApp subscribes to src and returns the dashboard model. now may be nil.
func NewApp(src Source, now func() time.Time) App {
	if now == nil {
		now = time.Now
	}
	updates, cancel := src.Subscribe(4)
	return App{
		src:     src,
		updates: updates,
		cancel:  cancel,
		width:   80,
		height:  24,
		now:     now,
	}
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.Batch(waitForStats(a.updates), tickCmd())
}

func waitForStats(ch <-chan model.RealtimeStats) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return StatsMsg(s)
	}
}

// tickCmd redraws countdowns between engine updates.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.MouseMsg:
		if msg.Button == tea.MouseButtonLeft && msg.Action == tea.MouseActionPress && msg.Y <= 1 {
			if tab := a.tabAtX(msg.X); tab >= 0 {
				a.activeTab = tab
			}
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if a.cancel != nil {
				a.cancel()
			}
			return a, tea.Quit
		case "tab", "right", "l":
			a.activeTab = (a.activeTab + 1) % len(components.Tabs)
		case "shift+tab", "left", "h":
			a.activeTab = (a.activeTab + len(components.Tabs) - 1) % len(components.Tabs)
		case "1":
			a.activeTab = tabLive
		case "2":
			a.activeTab = tabHistory
		}
		return a, nil

	case StatsMsg:
		a.stats = model.RealtimeStats(msg)
		a.loaded = true
		a.trend = append(a.trend, a.stats.TotalTokensPerMinute)
		if len(a.trend) > trendLen {
			a.trend = a.trend[len(a.trend)-trendLen:]
		}
		a.history = a.src.History()
		return a, waitForStats(a.updates)

	case closedMsg:
		a.closed = true
		return a, nil

	case tickMsg:
		return a, tickCmd()
	}
	return a, nil
}

// tabAtX returns the tab index at the given X coordinate, or -1 if none.
// Hitboxes follow RenderTabBar's layout.
func (a App) tabAtX(x int) int {
	pos := 0
	for i := range components.Tabs {
		w := components.TabVisualWidth(i)
		if x >= pos && x < pos+w {
			return i
		}
		pos += w + 1
	}
	return -1
}

// View implements tea.Model.
func (a App) View() string {
	t := theme.Active
	title := lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Render("burnwatch")

	var body string
	switch {
	case !a.loaded:
		body = lipgloss.NewStyle().Foreground(t.TextMuted).Render("  waiting for usage...")
	case a.activeTab == tabHistory:
		body = a.renderHistory()
	default:
		body = a.renderLive()
	}

	return components.RenderTabBar(a.activeTab) + "  " + title + "\n\n" +
		body + "\n" +
		components.RenderStatusBar(a.width, a.statusLeft(), "q quit  tab switch")
}

func (a App) statusLeft() string {
	if a.closed {
		return "engine stopped"
	}
	if a.stats.LastUpdate.IsZero() {
		return ""
	}
	return "updated " + cli.FormatClock(a.stats.LastUpdate, a.now())
}

func (a App) renderLive() string {
	t := theme.Active
	s := a.stats
	level := s.MaxLevel()

	var b strings.Builder
	b.WriteString(components.MetricCardRow([]components.Metric{
		{Label: "Active blocks", Value: fmt.Sprintf("%d", len(s.ActiveBlocks))},
		{Label: "Tokens/min", Value: cli.FormatRate(s.TotalTokensPerMinute)},
		{Label: "Cost/hour", Value: cli.FormatCostRate(s.TotalCostPerHour)},
		{Label: "Level", Value: level.String(), Color: t.Level(level)},
	}, a.width))
	b.WriteString("\n")

	inner := components.CardInnerWidth(a.width)
	var rows []string
	var warnings []string
	if len(s.ActiveBlocks) == 0 {
		rows = append(rows, lipgloss.NewStyle().Foreground(t.TextDim).Render("no open blocks"))
	}
	now := a.now()
	window := a.src.Window()
	labelW := min(20, inner/4)
	for _, blk := range s.ActiveBlocks {
		st, _ := s.Status(blk.ID)
		rate, _ := s.BurnRate(blk.ID)
		pct := 0.0
		if window > 0 {
			pct = float64(blk.Elapsed(now)) / float64(window)
		}
		left := cli.FormatMinutes(blk.Remaining(now).Minutes()) + " left  " +
			cli.FormatRate(rate.TokensPerMinute)
		barW := max(inner-labelW-lipgloss.Width(left)-8, 4)
		rows = append(rows, components.BlockBar(cli.Truncate(blk.Project, labelW), pct, st.Level, left, labelW, barW))
		if st.HasWarning() {
			warnings = append(warnings, blk.Project+": "+st.Warning)
		}
	}
	b.WriteString(components.ContentCard("Open blocks", strings.Join(rows, "\n"), a.width))
	b.WriteString("\n")

	spark := components.Sparkline(a.trend, t.Level(level), inner)
	b.WriteString(components.ContentCard("Tokens/min trend", spark, a.width))

	if len(warnings) > 0 {
		b.WriteString("\n")
		warn := lipgloss.NewStyle().Foreground(t.Level(level))
		for _, w := range warnings {
			b.WriteString(warn.Render("  ! "+w) + "\n")
		}
	}
	return b.String()
}

func (a App) renderHistory() string {
	t := theme.Active
	if len(a.history) == 0 {
		return components.ContentCard("Closed blocks", lipgloss.NewStyle().Foreground(t.TextDim).Render("no closed blocks yet"), a.width)
	}

	head := lipgloss.NewStyle().Foreground(t.TextMuted)
	cell := lipgloss.NewStyle().Foreground(t.TextPrimary)
	inner := components.CardInnerWidth(a.width)
	projW := max(inner-60, 10)

	rows := []string{head.Render(fmt.Sprintf("%-16s %-*s %10s %10s %-9s", "Start", projW, "Project", "Tokens", "Cost", "Closed"))}

	// Newest first, bounded by the terminal height.
	limit := max(a.height-8, 1)
	for i := len(a.history) - 1; i >= 0 && len(rows) <= limit; i-- {
		blk := a.history[i]
		rows = append(rows, cell.Render(fmt.Sprintf("%-16s %-*s %10s %10s %-9s",
			blk.StartTime.Local().Format("Jan 02 15:04"),
			projW, cli.Truncate(blk.Project, projW),
			cli.FormatTokens(blk.TotalTokens()),
			cli.FormatCost(blk.CostUSD),
			string(blk.CloseReason))))
	}
	return components.ContentCard("Closed blocks", strings.Join(rows, "\n"), a.width)
}

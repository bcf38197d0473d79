package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/burnwatch/internal/logging"
	"github.com/theirongolddev/burnwatch/internal/monitor"
	"github.com/theirongolddev/burnwatch/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"tui"},
	Short:   "Live dashboard of open billing blocks",
	RunE:    runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The dashboard owns the terminal; keep engine logs to warnings and above.
	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		cfg.Logging.Level = "warn"
	}
	log = logging.New(cfg.Logging, os.Stderr)

	eng := newEngine(nil)
	mon := monitor.New(cfg.ClaudeDir(), eng, monitor.Options{
		RescanInterval:   cfg.Monitor.RescanInterval,
		Backfill:         cfg.Monitor.Backfill,
		IncludeSubagents: cfg.General.IncludeSubagents,
		Logger:           log,
	})
	if err := mon.Start(ctx); err != nil {
		return err
	}
	defer mon.Stop()
	defer eng.Stop()

	// Respect NO_COLOR, otherwise force TrueColor so background styling renders.
	profile := termenv.TrueColor
	if termenv.EnvNoColor() {
		profile = termenv.Ascii
	}
	lipgloss.SetColorProfile(profile)

	p := tea.NewProgram(tui.NewApp(eng, nil),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

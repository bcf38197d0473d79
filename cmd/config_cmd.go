package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/burnwatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	path := flagConfig
	if path == "" {
		path = config.ConfigPath()
	}
	fmt.Printf("  Config file: %s\n", path)
	if config.Exists() || flagConfig != "" {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Default days:      %d\n", cfg.General.DefaultDays)
	fmt.Printf("    Include subagents: %v\n", cfg.General.IncludeSubagents)
	fmt.Printf("    Claude directory:  %s\n", cfg.ClaudeDir())
	fmt.Println()

	fmt.Println("  [Blocks]")
	fmt.Printf("    Window:        %s\n", cfg.Blocks.Window)
	fmt.Printf("    Idle grace:    %s\n", cfg.Blocks.IdleGrace)
	fmt.Printf("    History limit: %d\n", cfg.Blocks.HistoryLimit)
	fmt.Println()

	fmt.Println("  [Thresholds] tokens/min")
	fmt.Printf("    Moderate: %.0f\n", cfg.Thresholds.Moderate)
	fmt.Printf("    High:     %.0f\n", cfg.Thresholds.High)
	fmt.Printf("    Critical: %.0f\n", cfg.Thresholds.Critical)
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address: %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Backfill on start: %v\n", cfg.Monitor.Backfill)
	fmt.Println()

	fmt.Println("  [Alerts]")
	if cfg.Alerts.DiscordWebhookURL != "" {
		fmt.Printf("    Discord webhook: %s\n", maskSecret(cfg.Alerts.DiscordWebhookURL))
		fmt.Printf("    Min level:       %s\n", cfg.Alerts.MinLevel)
	} else {
		fmt.Println("    Discord webhook: not configured")
	}
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme: %s\n", cfg.Appearance.Theme)
	fmt.Println()

	fmt.Println("  Run `burnwatch setup` to reconfigure.")
	return nil
}

// maskSecret keeps the head of a URL or key and hides the rest.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return "****"
	}
	return s[:len(s)/2] + "****"
}

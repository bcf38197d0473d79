package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/burnwatch/internal/cli"
	"github.com/theirongolddev/burnwatch/internal/config"
	"github.com/theirongolddev/burnwatch/internal/source"
	"github.com/theirongolddev/burnwatch/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive first-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	claudeDir := cfg.ClaudeDir()
	files, _ := source.ScanDir(claudeDir)
	if len(files) > 0 {
		fmt.Printf("\n  Found %s session files in %s (%d projects)\n\n",
			cli.FormatNumber(int64(len(files))), claudeDir, source.CountProjects(files))
	}

	values := tui.SetupValuesFrom(cfg)
	if err := tui.NewSetupForm(&values).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("  Setup cancelled.")
			return nil
		}
		return err
	}

	next := cfg
	if err := values.Apply(&next); err != nil {
		return err
	}
	if err := config.Save(next, flagConfig); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	path := flagConfig
	if path == "" {
		path = config.ConfigPath()
	}
	fmt.Printf("\n  Saved to %s\n", path)
	fmt.Println("  Run `burnwatch watch` to see live burn rates.")
	return nil
}

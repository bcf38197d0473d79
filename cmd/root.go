// Package cmd implements the burnwatch CLI commands.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/burnwatch/internal/burnrate"
	"github.com/theirongolddev/burnwatch/internal/cli"
	"github.com/theirongolddev/burnwatch/internal/config"
	"github.com/theirongolddev/burnwatch/internal/engine"
	"github.com/theirongolddev/burnwatch/internal/logging"
	"github.com/theirongolddev/burnwatch/internal/metrics"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/pipeline"
	"github.com/theirongolddev/burnwatch/internal/store"
	"github.com/theirongolddev/burnwatch/internal/tui/theme"
)

var (
	flagConfig      string
	flagClaudeDir   string
	flagDays        int
	flagProject     string
	flagModel       string
	flagNoCache     bool
	flagQuiet       bool
	flagNoSubagents bool
	flagLogLevel    string
)

// cfg and log are populated by the root PersistentPreRunE.
var (
	cfg config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:               "burnwatch",
	Short:             "Live burn-rate tracking for Claude Code billing blocks",
	Long:              "Track token usage per 5-hour billing block, classify burn rate, and warn before limits are hit.",
	SilenceUsage:      true,
	PersistentPreRunE: bootstrap,
	RunE:              runStatus,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVarP(&flagClaudeDir, "claude-dir", "d", "", "Claude data directory (default ~/.claude)")
	rootCmd.PersistentFlags().IntVarP(&flagDays, "days", "n", 0, "Time window in days (default from config)")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "Filter to project (substring match)")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "Filter to model (substring match)")
	rootCmd.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "Skip SQLite cache, reparse everything")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&flagNoSubagents, "no-subagents", false, "Exclude subagent sessions")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level override (debug, info, warn, error)")
}

// bootstrap loads .env, config, pricing overrides, theme and logger.
func bootstrap(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagClaudeDir != "" {
		cfg.General.ClaudeDir = flagClaudeDir
	}
	if flagDays <= 0 {
		flagDays = cfg.General.DefaultDays
	}
	if flagNoSubagents {
		cfg.General.IncludeSubagents = false
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	config.ApplyOverrides(cfg.Pricing)
	theme.SetActive(cfg.Appearance.Theme)
	log = logging.New(cfg.Logging, os.Stderr)
	return nil
}

func thresholds() burnrate.Thresholds {
	return burnrate.Thresholds{
		Moderate: cfg.Thresholds.Moderate,
		High:     cfg.Thresholds.High,
		Critical: cfg.Thresholds.Critical,
	}
}

func newSummarizer() pipeline.Summarizer {
	return pipeline.Summarizer{
		Window:     cfg.Blocks.Window,
		Calculator: burnrate.Calculator{Strict: cfg.Engine.StrictInvariants},
		Classifier: burnrate.NewClassifier(thresholds()),
	}
}

func newEngine(m *metrics.Collector) *engine.Engine {
	return engine.New(engine.Options{
		Window:           cfg.Blocks.Window,
		IdleGrace:        cfg.Blocks.IdleGrace,
		HistoryLimit:     cfg.Blocks.HistoryLimit,
		Thresholds:       thresholds(),
		TickInterval:     cfg.Engine.TickInterval,
		SubscriberBuffer: cfg.Engine.SubscriberBuffer,
		Strict:           cfg.Engine.StrictInvariants,
		Logger:           log,
		Metrics:          m,
	})
}

// loadEntries is the shared batch loading path used by report commands.
// Uses the SQLite cache when available for fast subsequent runs.
func loadEntries() ([]model.UsageEntry, error) {
	entries, err := loadHistory()
	if err != nil {
		return nil, err
	}
	return pipeline.FilterByModel(entries, flagModel), nil
}

// loadHistory loads every entry narrowed only by --project. Block replay
// needs each session's complete history, so time and model filters apply to
// the resulting blocks instead.
func loadHistory() ([]model.UsageEntry, error) {
	claudeDir := cfg.ClaudeDir()
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  Scanning sessions...\n")
	}

	progressFn := func(current, total int) {
		if flagQuiet {
			return
		}
		if current%100 == 0 || current == total {
			fmt.Fprintf(os.Stderr, "\r  Parsing [%d/%d]", current, total)
		}
	}

	if !flagNoCache {
		cache, err := store.Open(pipeline.CachePath())
		if err != nil {
			log.Debug().Err(err).Msg("cache unavailable, doing full parse")
		} else {
			defer func() { _ = cache.Close() }()

			cr, err := pipeline.LoadWithCache(claudeDir, cfg.General.IncludeSubagents, cache, progressFn)
			if err == nil {
				if !flagQuiet && cr.TotalFiles > 0 {
					fmt.Fprintf(os.Stderr, "\r  %s cached + %d reparsed (%d projects)    \n",
						cli.FormatNumber(int64(cr.CacheHits)), cr.Reparsed, cr.ProjectCount)
				}
				return pipeline.FilterByProject(cr.Entries, flagProject), nil
			}
			log.Warn().Err(err).Msg("cache error, falling back to full parse")
		}
	}

	result, err := pipeline.Load(claudeDir, cfg.General.IncludeSubagents, progressFn)
	if err != nil {
		return nil, err
	}
	if !flagQuiet && result.TotalFiles > 0 {
		fmt.Fprintf(os.Stderr, "\r  Parsed %s files across %d projects    \n",
			cli.FormatNumber(int64(result.ParsedFiles)), result.ProjectCount)
	}
	return pipeline.FilterByProject(result.Entries, flagProject), nil
}


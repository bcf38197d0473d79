package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all burnwatch configuration.
type Config struct {
	General    GeneralConfig    `toml:"general" yaml:"general"`
	Blocks     BlocksConfig     `toml:"blocks" yaml:"blocks"`
	Thresholds ThresholdsConfig `toml:"thresholds" yaml:"thresholds"`
	Engine     EngineConfig     `toml:"engine" yaml:"engine"`
	Monitor    MonitorConfig    `toml:"monitor" yaml:"monitor"`
	Daemon     DaemonConfig     `toml:"daemon" yaml:"daemon"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
	Alerts     AlertsConfig     `toml:"alerts" yaml:"alerts"`
	Appearance AppearanceConfig `toml:"appearance" yaml:"appearance"`
	Pricing    PricingOverrides `toml:"pricing" yaml:"pricing"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	DefaultDays      int    `toml:"default_days" yaml:"default_days"`
	IncludeSubagents bool   `toml:"include_subagents" yaml:"include_subagents"`
	ClaudeDir        string `toml:"claude_dir,omitempty" yaml:"claude_dir,omitempty"`
}

// BlocksConfig controls billing window tracking.
type BlocksConfig struct {
	Window       time.Duration `toml:"window" yaml:"window"`
	IdleGrace    time.Duration `toml:"idle_grace" yaml:"idle_grace"`
	HistoryLimit int           `toml:"history_limit" yaml:"history_limit"`
}

// ThresholdsConfig holds burn-rate boundaries in tokens per minute.
// A rate at or above a boundary is classified at that level.
type ThresholdsConfig struct {
	Moderate float64 `toml:"moderate" yaml:"moderate"`
	High     float64 `toml:"high" yaml:"high"`
	Critical float64 `toml:"critical" yaml:"critical"`
}

// EngineConfig controls the realtime aggregation loop.
type EngineConfig struct {
	TickInterval     time.Duration `toml:"tick_interval" yaml:"tick_interval"`
	SubscriberBuffer int           `toml:"subscriber_buffer" yaml:"subscriber_buffer"`
	StrictInvariants bool          `toml:"strict_invariants" yaml:"strict_invariants"`
}

// MonitorConfig controls how the log store is followed.
type MonitorConfig struct {
	RescanInterval time.Duration `toml:"rescan_interval" yaml:"rescan_interval"`
	Backfill       bool          `toml:"backfill" yaml:"backfill"`
}

// DaemonConfig holds the background service settings.
type DaemonConfig struct {
	Addr         string `toml:"addr" yaml:"addr"`
	EventsBuffer int    `toml:"events_buffer" yaml:"events_buffer"`
}

// LoggingConfig selects the log level and output format ("console" or "json").
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// AlertsConfig holds burn-rate alert delivery settings.
type AlertsConfig struct {
	DiscordWebhookURL string `toml:"discord_webhook_url,omitempty" yaml:"discord_webhook_url,omitempty"`
	MinLevel          string `toml:"min_level" yaml:"min_level"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme" yaml:"theme"`
}

// PricingOverrides allows user-defined pricing for specific models.
type PricingOverrides struct {
	Overrides map[string]ModelPricingOverride `toml:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// ModelPricingOverride holds per-model pricing overrides.
type ModelPricingOverride struct {
	InputPerMTok        *float64 `toml:"input_per_mtok,omitempty" yaml:"input_per_mtok,omitempty"`
	OutputPerMTok       *float64 `toml:"output_per_mtok,omitempty" yaml:"output_per_mtok,omitempty"`
	CacheWrite5mPerMTok *float64 `toml:"cache_write_5m_per_mtok,omitempty" yaml:"cache_write_5m_per_mtok,omitempty"`
	CacheWrite1hPerMTok *float64 `toml:"cache_write_1h_per_mtok,omitempty" yaml:"cache_write_1h_per_mtok,omitempty"`
	CacheReadPerMTok    *float64 `toml:"cache_read_per_mtok,omitempty" yaml:"cache_read_per_mtok,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			DefaultDays:      30,
			IncludeSubagents: true,
		},
		Blocks: BlocksConfig{
			Window:       5 * time.Hour,
			HistoryLimit: 256,
		},
		Thresholds: ThresholdsConfig{
			Moderate: 20_000,
			High:     40_000,
			Critical: 60_000,
		},
		Engine: EngineConfig{
			TickInterval:     time.Second,
			SubscriberBuffer: 16,
		},
		Monitor: MonitorConfig{
			RescanInterval: 5 * time.Second,
			Backfill:       true,
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8787",
			EventsBuffer: 200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Alerts: AlertsConfig{
			MinLevel: "HIGH",
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "burnwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "burnwatch")
}

// ConfigPath returns the full path to the default config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the config file at path (the default path when empty),
// returning defaults if it doesn't exist. Files ending in .yaml or .yml
// are decoded as YAML, everything else as TOML. Environment overrides
// are applied last.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-supplied config path
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("reading config: %w", err)
	default:
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return toml.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// applyEnv lets the environment (or a .env file loaded at startup) override file settings.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BURNWATCH_CLAUDE_DIR"); v != "" {
		cfg.General.ClaudeDir = v
	}
	if v := os.Getenv("BURNWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BURNWATCH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BURNWATCH_ADDR"); v != "" {
		cfg.Daemon.Addr = v
	}
	if v := os.Getenv("BURNWATCH_DISCORD_WEBHOOK"); v != "" {
		cfg.Alerts.DiscordWebhookURL = v
	}
}

// Validate checks the settings the engine cannot run without.
func (c Config) Validate() error {
	if c.Blocks.Window <= 0 {
		return fmt.Errorf("blocks.window must be positive, got %s", c.Blocks.Window)
	}
	if c.Blocks.IdleGrace < 0 {
		return fmt.Errorf("blocks.idle_grace must not be negative, got %s", c.Blocks.IdleGrace)
	}
	t := c.Thresholds
	if t.Moderate <= 0 || t.High <= t.Moderate || t.Critical <= t.High {
		return fmt.Errorf("thresholds must satisfy 0 < moderate < high < critical, got %g/%g/%g",
			t.Moderate, t.High, t.Critical)
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive, got %s", c.Engine.TickInterval)
	}
	return nil
}

// Save writes the config to path (the default path when empty).
func Save(cfg Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // config dir is user-owned
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // user-supplied config path
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer func() { _ = enc.Close() }()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

// ClaudeDir resolves the Claude data directory, defaulting to ~/.claude.
func (c Config) ClaudeDir() string {
	if c.General.ClaudeDir != "" {
		return c.General.ClaudeDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Blocks.Window != 5*time.Hour {
		t.Errorf("Window = %v, want 5h", cfg.Blocks.Window)
	}
	if cfg.Thresholds.High != 40_000 {
		t.Errorf("High = %v, want 40000", cfg.Thresholds.High)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[blocks]
window = "3h"
idle_grace = "10m"

[thresholds]
moderate = 100.0
high = 200.0
critical = 300.0
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Blocks.Window != 3*time.Hour {
		t.Errorf("Window = %v, want 3h", cfg.Blocks.Window)
	}
	if cfg.Blocks.IdleGrace != 10*time.Minute {
		t.Errorf("IdleGrace = %v, want 10m", cfg.Blocks.IdleGrace)
	}
	if cfg.Thresholds.Critical != 300 {
		t.Errorf("Critical = %v, want 300", cfg.Thresholds.Critical)
	}
	// untouched sections keep defaults
	if cfg.Daemon.Addr != "127.0.0.1:8787" {
		t.Errorf("Addr = %q, want default", cfg.Daemon.Addr)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "blocks:\n  window: 2h\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Blocks.Window != 2*time.Hour {
		t.Errorf("Window = %v, want 2h", cfg.Blocks.Window)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BURNWATCH_LOG_LEVEL", "warn")
	t.Setenv("BURNWATCH_ADDR", "127.0.0.1:9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Daemon.Addr != "127.0.0.1:9999" {
		t.Errorf("Addr = %q, want 127.0.0.1:9999", cfg.Daemon.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero window", func(c *Config) { c.Blocks.Window = 0 }, "blocks.window"},
		{"negative grace", func(c *Config) { c.Blocks.IdleGrace = -time.Second }, "idle_grace"},
		{"unordered thresholds", func(c *Config) { c.Thresholds.High = c.Thresholds.Critical }, "thresholds"},
		{"zero tick", func(c *Config) { c.Engine.TickInterval = 0 }, "tick_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.Blocks.Window = 4 * time.Hour
			cfg.Alerts.MinLevel = "CRITICAL"

			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Blocks.Window != 4*time.Hour {
				t.Errorf("Window = %v, want 4h", got.Blocks.Window)
			}
			if got.Alerts.MinLevel != "CRITICAL" {
				t.Errorf("MinLevel = %q, want CRITICAL", got.Alerts.MinLevel)
			}
		})
	}
}

package tui

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/theirongolddev/burnwatch/internal/config"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/tui/theme"
)

// SetupValues holds the setup form's text fields.
type SetupValues struct {
	Window   string
	Moderate string
	High     string
	Critical string
	Theme    string
	Webhook  string
	MinLevel string
}

// SetupValuesFrom seeds the form from an existing config.
func SetupValuesFrom(cfg config.Config) SetupValues {
	return SetupValues{
		Window:   cfg.Blocks.Window.String(),
		Moderate: formatFloat(cfg.Thresholds.Moderate),
		High:     formatFloat(cfg.Thresholds.High),
		Critical: formatFloat(cfg.Thresholds.Critical),
		Theme:    cfg.Appearance.Theme,
		Webhook:  cfg.Alerts.DiscordWebhookURL,
		MinLevel: cfg.Alerts.MinLevel,
	}
}

// NewSetupForm builds the setup wizard bound to v.
func NewSetupForm(v *SetupValues) *huh.Form {
	levels := []string{
		model.LevelModerate.String(),
		model.LevelHigh.String(),
		model.LevelCritical.String(),
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Welcome to burnwatch").
				Description("Live burn-rate tracking for Claude Code billing blocks."),
			huh.NewInput().
				Title("Billing block window").
				Description("Go duration, e.g. 5h").
				Value(&v.Window).
				Validate(validateDuration),
		),
		huh.NewGroup(
			huh.NewInput().Title("Moderate at (tokens/min)").Value(&v.Moderate).Validate(validatePositive),
			huh.NewInput().Title("High at (tokens/min)").Value(&v.High).Validate(validatePositive),
			huh.NewInput().Title("Critical at (tokens/min)").Value(&v.Critical).Validate(validatePositive),
		).Title("Thresholds"),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Color theme").
				Options(huh.NewOptions(theme.Names()...)...).
				Value(&v.Theme),
			huh.NewInput().
				Title("Discord webhook URL").
				Description("Leave empty to disable alerts").
				Value(&v.Webhook).
				Validate(validateWebhook),
			huh.NewSelect[string]().
				Title("Alert at level").
				Options(huh.NewOptions(levels...)...).
				Value(&v.MinLevel),
		),
	).WithShowHelp(false)
}

// Apply parses v into cfg and validates the result.
func (v SetupValues) Apply(cfg *config.Config) error {
	window, err := time.ParseDuration(strings.TrimSpace(v.Window))
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}

	var th [3]float64
	for i, s := range []string{v.Moderate, v.High, v.Critical} {
		th[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("threshold %q: %w", s, err)
		}
	}

	next := *cfg
	next.Blocks.Window = window
	next.Thresholds = config.ThresholdsConfig{Moderate: th[0], High: th[1], Critical: th[2]}
	if v.Theme != "" {
		next.Appearance.Theme = v.Theme
	}
	next.Alerts.DiscordWebhookURL = strings.TrimSpace(v.Webhook)
	if v.MinLevel != "" {
		next.Alerts.MinLevel = v.MinLevel
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*cfg = next
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validatePositive(s string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number")
	}
	if f <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateWebhook(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "https" {
		return fmt.Errorf("expected an https URL")
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

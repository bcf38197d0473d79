package burnrate

import (
	"fmt"
	"time"

	"github.com/theirongolddev/burnwatch/internal/model"
)

// Thresholds are lower bounds in tokens per minute: a rate at or above
// Critical is CRITICAL, at or above High is HIGH, and so on.
type Thresholds struct {
	Moderate float64
	High     float64
	Critical float64
}

// DefaultThresholds returns the built-in boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Moderate: 20_000, High: 40_000, Critical: 60_000}
}

// Validate reports whether the boundaries are positive and strictly increasing.
func (t Thresholds) Validate() error {
	if t.Moderate <= 0 || t.High <= t.Moderate || t.Critical <= t.High {
		return fmt.Errorf("thresholds must satisfy 0 < moderate < high < critical, got %g/%g/%g",
			t.Moderate, t.High, t.Critical)
	}
	return nil
}

// Level maps tokens per minute to a severity.
func (t Thresholds) Level(tokensPerMinute float64) model.Level {
	switch {
	case tokensPerMinute >= t.Critical:
		return model.LevelCritical
	case tokensPerMinute >= t.High:
		return model.LevelHigh
	case tokensPerMinute >= t.Moderate:
		return model.LevelModerate
	default:
		return model.LevelLow
	}
}

// Classifier turns burn rates into statuses. It holds no mutable state.
type Classifier struct {
	Thresholds Thresholds
}

// NewClassifier returns a Classifier for t.
func NewClassifier(t Thresholds) Classifier {
	return Classifier{Thresholds: t}
}

// Classify maps a rate to a status. remaining is the time left in the block;
// negative values count as zero.
func (c Classifier) Classify(rate model.BurnRate, remaining time.Duration) model.BurnRateStatus {
	level := c.Thresholds.Level(rate.TokensPerMinute)
	if remaining < 0 {
		remaining = 0
	}
	return model.BurnRateStatus{
		Level:              level,
		Warning:            c.warning(level, rate),
		ProjectedBlockCost: rate.CostPerHour * remaining.Hours(),
	}
}

// Status classifies rate for block b evaluated at now.
func (c Classifier) Status(b model.SessionBlock, rate model.BurnRate, now time.Time) model.BurnRateStatus {
	return c.Classify(rate, b.EndTime.Sub(now))
}

func (c Classifier) warning(level model.Level, rate model.BurnRate) string {
	switch level {
	case model.LevelCritical:
		return fmt.Sprintf("Critical burn rate: %.0f tokens/min is above the %.0f tokens/min limit",
			rate.TokensPerMinute, c.Thresholds.Critical)
	case model.LevelHigh:
		return fmt.Sprintf("High burn rate: %.0f tokens/min is above the %.0f tokens/min warning level",
			rate.TokensPerMinute, c.Thresholds.High)
	default:
		return ""
	}
}

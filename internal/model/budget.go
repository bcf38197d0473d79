package model

import (
	"fmt"
	"strings"
)

// Level is a burn-rate severity. Values are ordered: LOW < MODERATE < HIGH < CRITICAL.
type Level int

const (
	LevelLow Level = iota
	LevelModerate
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{"LOW", "MODERATE", "HIGH", "CRITICAL"}

func (l Level) String() string {
	if l < LevelLow || l > LevelCritical {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText encodes the level by name so IPC consumers never see the ordinal.
func (l Level) MarshalText() ([]byte, error) {
	if l < LevelLow || l > LevelCritical {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText accepts a level name, case-insensitively.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelLow, fmt.Errorf("unknown level %q", s)
}

// BurnRate is the consumption velocity of one open block.
type BurnRate struct {
	TokensPerMinute float64 `json:"tokens_per_minute"`
	// TokensPerMinuteForIndicator is compared against a fixed ceiling by
	// displays. It is never clamped here.
	TokensPerMinuteForIndicator float64 `json:"tokens_per_minute_for_indicator"`
	CostPerHour                 float64 `json:"cost_per_hour"`
}

// BurnRateStatus classifies a BurnRate against the configured thresholds.
type BurnRateStatus struct {
	Level              Level   `json:"level"`
	Warning            string  `json:"warning,omitempty"`
	ProjectedBlockCost float64 `json:"projected_block_cost"`
}

// HasWarning reports whether the status carries a warning message.
func (s BurnRateStatus) HasWarning() bool {
	return s.Warning != ""
}

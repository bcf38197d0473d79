// Package burnrate derives consumption velocity for billing blocks and classifies it against thresholds.
package burnrate

import (
	"fmt"
	"math"
	"time"

	"github.com/theirongolddev/burnwatch/internal/model"
)

// Calculator computes burn rates. With Strict set, an evaluation time before
// a block's start panics; otherwise it yields a zero rate.
type Calculator struct {
	Strict bool
	// OnInvariant, if set, is called before falling back to a zero rate.
	OnInvariant func(msg string)
}

// Calculate returns the block's rate at now. Elapsed time is floored at one
// minute so a freshly opened block never divides by zero.
func (c Calculator) Calculate(b model.SessionBlock, now time.Time) model.BurnRate {
	elapsed := now.Sub(b.StartTime)
	if elapsed < 0 {
		msg := fmt.Sprintf("burn rate: evaluation time %s precedes block %s start %s",
			now.Format(time.RFC3339Nano), b.ID, b.StartTime.Format(time.RFC3339Nano))
		if c.Strict {
			panic(msg)
		}
		if c.OnInvariant != nil {
			c.OnInvariant(msg)
		}
		return model.BurnRate{}
	}

	tokens := b.TotalTokens()
	if tokens == 0 && b.CostUSD == 0 {
		return model.BurnRate{}
	}

	minutes := math.Max(1, elapsed.Minutes())
	tpm := float64(tokens) / minutes
	return model.BurnRate{
		TokensPerMinute:             tpm,
		TokensPerMinuteForIndicator: tpm,
		CostPerHour:                 b.CostUSD / minutes * 60,
	}
}

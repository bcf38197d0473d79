package model

import "time"

// BlockBurnRate pairs a block id with its computed rate and classification.
type BlockBurnRate struct {
	BlockID  string         `json:"block_id"`
	BurnRate BurnRate       `json:"burn_rate"`
	Status   BurnRateStatus `json:"status"`
}

// RealtimeStats is an immutable snapshot of every open block.
// BurnRates is an ordered association in the same order as ActiveBlocks.
type RealtimeStats struct {
	ActiveBlocks         []SessionBlock  `json:"active_blocks"`
	BurnRates            []BlockBurnRate `json:"burn_rates"`
	TotalTokensPerMinute float64         `json:"total_tokens_per_minute"`
	TotalCostPerHour     float64         `json:"total_cost_per_hour"`
	LastUpdate           time.Time       `json:"last_update"`
}

// BurnRate looks up the rate for a block id.
func (s RealtimeStats) BurnRate(blockID string) (BurnRate, bool) {
	for _, r := range s.BurnRates {
		if r.BlockID == blockID {
			return r.BurnRate, true
		}
	}
	return BurnRate{}, false
}

// Status looks up the classification for a block id.
func (s RealtimeStats) Status(blockID string) (BurnRateStatus, bool) {
	for _, r := range s.BurnRates {
		if r.BlockID == blockID {
			return r.Status, true
		}
	}
	return BurnRateStatus{}, false
}

// MaxLevel returns the highest severity across open blocks.
func (s RealtimeStats) MaxLevel() Level {
	top := LevelLow
	for _, r := range s.BurnRates {
		if r.Status.Level > top {
			top = r.Status.Level
		}
	}
	return top
}

// CurrentBlockStatus is the convenience projection of the most recent open block.
type CurrentBlockStatus struct {
	IsActive         bool           `json:"is_active"`
	BlockID          string         `json:"block_id,omitempty"`
	Project          string         `json:"project,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	StartTime        time.Time      `json:"start_time,omitzero"`
	EndTime          time.Time      `json:"end_time,omitzero"`
	RemainingMinutes float64        `json:"remaining_minutes"`
	TotalCost        float64        `json:"total_cost"`
	TotalTokens      int64          `json:"total_tokens"`
	BurnRate         BurnRate       `json:"burn_rate"`
	BurnRateStatus   BurnRateStatus `json:"burn_rate_status"`
}

package model

import "time"

// BillingBlockSummary is an on-demand view of one billing window over a batch of entries.
type BillingBlockSummary struct {
	BlockID          string         `json:"block_id,omitempty"`
	Project          string         `json:"project,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	IsActive         bool           `json:"is_active"`
	EntryCount       int            `json:"entry_count"`
	Tokens           TokenCounts    `json:"tokens"`
	TotalTokens      int64          `json:"total_tokens"`
	CostUSD          float64        `json:"cost_usd"`
	Models           []string       `json:"models,omitempty"`
	FirstEntry       time.Time      `json:"first_entry,omitzero"`
	LastEntry        time.Time      `json:"last_entry,omitzero"`
	ElapsedMinutes   float64        `json:"elapsed_minutes"`
	RemainingMinutes float64        `json:"remaining_minutes"`
	BurnRate         BurnRate       `json:"burn_rate"`
	Status           BurnRateStatus `json:"status"`
}

// ProjectTokenStats is a per-project rollup, independent of live tracking.
type ProjectTokenStats struct {
	Project     string      `json:"project"`
	Sessions    int         `json:"sessions"`
	Entries     int         `json:"entries"`
	Tokens      TokenCounts `json:"tokens"`
	TotalTokens int64       `json:"total_tokens"`
	CostUSD     float64     `json:"cost_usd"`
	Models      []string    `json:"models,omitempty"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
}

// ModelTokenStats is a per-model rollup.
type ModelTokenStats struct {
	Model        string      `json:"model"`
	Entries      int         `json:"entries"`
	Tokens       TokenCounts `json:"tokens"`
	TotalTokens  int64       `json:"total_tokens"`
	CostUSD      float64     `json:"cost_usd"`
	SharePercent float64     `json:"share_percent"`
}

// Package model defines domain types for burnwatch usage entries, billing blocks and burn rates.
package model

import "time"

// UsageEntry is one deduplicated API call, normalized from a raw log record.
// Entries are never mutated after normalization.
type UsageEntry struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	Model               string    `json:"model"`
	InputTokens         int64     `json:"input_tokens"`
	OutputTokens        int64     `json:"output_tokens"`
	CacheCreationTokens int64     `json:"cache_creation_tokens"`
	CacheReadTokens     int64     `json:"cache_read_tokens"`
	CostUSD             float64   `json:"cost_usd"`
	SessionID           string    `json:"session_id"`
	Project             string    `json:"project"`
	ProjectPath         string    `json:"project_path,omitempty"`
}

// TotalTokens sums all four token categories.
func (e UsageEntry) TotalTokens() int64 {
	return e.InputTokens + e.OutputTokens + e.CacheCreationTokens + e.CacheReadTokens
}

// Key returns the tracker key the entry belongs to.
func (e UsageEntry) Key() BlockKey {
	return BlockKey{Project: e.Project, SessionID: e.SessionID}
}

// BlockKey identifies an independent stream of billing blocks.
type BlockKey struct {
	Project   string `json:"project"`
	SessionID string `json:"session_id"`
}

func (k BlockKey) String() string {
	return k.Project + "/" + k.SessionID
}

// TokenCounts holds running totals per token category.
type TokenCounts struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheCreation int64 `json:"cache_creation"`
	CacheRead     int64 `json:"cache_read"`
}

// Add accumulates an entry's tokens.
func (t *TokenCounts) Add(e UsageEntry) {
	t.Input += e.InputTokens
	t.Output += e.OutputTokens
	t.CacheCreation += e.CacheCreationTokens
	t.CacheRead += e.CacheReadTokens
}

// Sub removes an entry's tokens. Used when a duplicate entry replaces an earlier one.
func (t *TokenCounts) Sub(e UsageEntry) {
	t.Input -= e.InputTokens
	t.Output -= e.OutputTokens
	t.CacheCreation -= e.CacheCreationTokens
	t.CacheRead -= e.CacheReadTokens
}

// Total sums all categories.
func (t TokenCounts) Total() int64 {
	return t.Input + t.Output + t.CacheCreation + t.CacheRead
}

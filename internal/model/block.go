package model

import (
	"slices"
	"time"
)

// CloseReason records why a block left the open set.
type CloseReason string

const (
	// CloseRollover means an entry at or past the block's end started a new block.
	CloseRollover CloseReason = "rollover"
	// CloseIdle means a sweep saw wall-clock time pass the block's end.
	CloseIdle CloseReason = "idle"
)

// SessionBlock is one billing window for a single (project, session) key.
// EndTime is always StartTime plus the configured window, and every entry
// satisfies StartTime <= Timestamp < EndTime.
type SessionBlock struct {
	ID           string       `json:"id"`
	Project      string       `json:"project"`
	SessionID    string       `json:"session_id"`
	StartTime    time.Time    `json:"start_time"`
	EndTime      time.Time    `json:"end_time"`
	Entries      []UsageEntry `json:"entries,omitempty"`
	Tokens       TokenCounts  `json:"tokens"`
	CostUSD      float64      `json:"cost_usd"`
	Models       []string     `json:"models,omitempty"`
	LastActivity time.Time    `json:"last_activity"`
	ClosedAt     time.Time    `json:"closed_at,omitzero"`
	CloseReason  CloseReason  `json:"close_reason,omitempty"`
}

// Key returns the block's tracker key.
func (b *SessionBlock) Key() BlockKey {
	return BlockKey{Project: b.Project, SessionID: b.SessionID}
}

// Contains reports whether t falls inside the half-open window [StartTime, EndTime).
func (b *SessionBlock) Contains(t time.Time) bool {
	return !t.Before(b.StartTime) && t.Before(b.EndTime)
}

// TotalTokens is the sum of all token categories in the block.
func (b *SessionBlock) TotalTokens() int64 {
	return b.Tokens.Total()
}

// IsClosed reports whether the block has left the open set.
func (b *SessionBlock) IsClosed() bool {
	return b.CloseReason != ""
}

// Elapsed returns time since the block started, clamped to [0, window].
func (b *SessionBlock) Elapsed(now time.Time) time.Duration {
	d := now.Sub(b.StartTime)
	if d < 0 {
		return 0
	}
	if w := b.EndTime.Sub(b.StartTime); d > w {
		return w
	}
	return d
}

// Remaining returns time until the block ends, floored at zero.
func (b *SessionBlock) Remaining(now time.Time) time.Duration {
	d := b.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Clone returns a deep copy safe to hand to readers.
func (b *SessionBlock) Clone() SessionBlock {
	c := *b
	c.Entries = slices.Clone(b.Entries)
	c.Models = slices.Clone(b.Models)
	return c
}

package pipeline

import (
	"slices"
	"time"

	"github.com/theirongolddev/burnwatch/internal/blocks"
	"github.com/theirongolddev/burnwatch/internal/burnrate"
	"github.com/theirongolddev/burnwatch/internal/model"
)

// Summarizer computes billing block views over a bounded batch of entries.
// It never touches live tracking state.
type Summarizer struct {
	Window     time.Duration
	Calculator burnrate.Calculator
	Classifier burnrate.Classifier
}

// SummarizeWindow totals the entries inside [start, start+Window) as seen at now.
// Entries sharing an id count once, the last occurrence winning.
func (s Summarizer) SummarizeWindow(entries []model.UsageEntry, start, now time.Time) model.BillingBlockSummary {
	b := model.SessionBlock{StartTime: start, EndTime: start.Add(s.Window)}
	for _, e := range Dedup(entries) {
		if !b.Contains(e.Timestamp) {
			continue
		}
		b.Entries = append(b.Entries, e)
		b.Tokens.Add(e)
		b.CostUSD += e.CostUSD
	}
	slices.SortStableFunc(b.Entries, func(x, y model.UsageEntry) int { return x.Timestamp.Compare(y.Timestamp) })
	b.Models = modelsOf(b.Entries)
	return s.summarize(b, now)
}

// BuildBlocks replays entries through a block tracker, so the resulting blocks
// match what live tracking produces for the same input. Blocks are ordered
// by start time; the last block of each key is left open. Entries sharing an
// id count once, the last occurrence winning as in SummarizeWindow.
//
// Block boundaries depend on each key's first entry, so callers pass the full
// history and narrow the resulting blocks, never the entries.
func BuildBlocks(entries []model.UsageEntry, window time.Duration) []model.SessionBlock {
	sorted := Dedup(entries)
	slices.SortStableFunc(sorted, func(a, b model.UsageEntry) int { return a.Timestamp.Compare(b.Timestamp) })

	tr := blocks.New(window, 0, 0)
	for _, e := range sorted {
		// Sorted input cannot precede its key's open block.
		_, _ = tr.Apply(e)
	}

	all := append(tr.Closed(), tr.Open()...)
	slices.SortStableFunc(all, func(a, b model.SessionBlock) int { return a.StartTime.Compare(b.StartTime) })
	return all
}

// SummarizeBlocks summarizes every block built from entries, oldest first.
func (s Summarizer) SummarizeBlocks(entries []model.UsageEntry, now time.Time) []model.BillingBlockSummary {
	built := BuildBlocks(entries, s.Window)
	out := make([]model.BillingBlockSummary, 0, len(built))
	for _, b := range built {
		out = append(out, s.summarize(b, now))
	}
	return out
}

// SummarizeBlocksSince summarizes the blocks built from the full history
// that end after since. A zero since keeps every block.
func (s Summarizer) SummarizeBlocksSince(entries []model.UsageEntry, since, now time.Time) []model.BillingBlockSummary {
	all := s.SummarizeBlocks(entries, now)
	if since.IsZero() {
		return all
	}
	return slices.DeleteFunc(all, func(b model.BillingBlockSummary) bool { return !b.End.After(since) })
}

// CurrentBillingBlock summarizes the most recently started block that is
// active at now. It reports false when no block covers now.
func (s Summarizer) CurrentBillingBlock(entries []model.UsageEntry, now time.Time) (model.BillingBlockSummary, bool) {
	built := BuildBlocks(entries, s.Window)
	for i := len(built) - 1; i >= 0; i-- {
		if built[i].Contains(now) {
			return s.summarize(built[i], now), true
		}
	}
	return model.BillingBlockSummary{}, false
}

func (s Summarizer) summarize(b model.SessionBlock, now time.Time) model.BillingBlockSummary {
	sum := model.BillingBlockSummary{
		BlockID:          b.ID,
		Project:          b.Project,
		SessionID:        b.SessionID,
		Start:            b.StartTime,
		End:              b.EndTime,
		IsActive:         b.Contains(now),
		EntryCount:       len(b.Entries),
		Tokens:           b.Tokens,
		TotalTokens:      b.TotalTokens(),
		CostUSD:          b.CostUSD,
		Models:           b.Models,
		ElapsedMinutes:   b.Elapsed(now).Minutes(),
		RemainingMinutes: b.Remaining(now).Minutes(),
	}
	if n := len(b.Entries); n > 0 {
		sum.FirstEntry = b.Entries[0].Timestamp
		sum.LastEntry = b.Entries[n-1].Timestamp
	}

	// Finished blocks are rated over their whole window; future ones not at all.
	at := now
	if at.After(b.EndTime) {
		at = b.EndTime
	}
	if at.Before(b.StartTime) {
		at = b.StartTime
	}
	sum.BurnRate = s.Calculator.Calculate(b, at)
	sum.Status = s.Classifier.Status(b, sum.BurnRate, now)
	return sum
}

// Dedup keeps one entry per id, the last occurrence winning, in first-seen order.
func Dedup(entries []model.UsageEntry) []model.UsageEntry {
	index := make(map[string]int, len(entries))
	out := make([]model.UsageEntry, 0, len(entries))
	for _, e := range entries {
		if i, ok := index[e.ID]; ok {
			out[i] = e
			continue
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

package blocks

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/source"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func entry(id string, ts time.Time, tokens int64, cost float64) model.UsageEntry {
	return model.UsageEntry{
		ID:          id,
		Timestamp:   ts,
		Model:       "claude-sonnet-4-6",
		InputTokens: tokens,
		CostUSD:     cost,
		SessionID:   "s1",
		Project:     "demo",
	}
}

func mustApply(t *testing.T, tr *Tracker, e model.UsageEntry) *model.SessionBlock {
	t.Helper()
	closed, err := tr.Apply(e)
	if err != nil {
		t.Fatalf("Apply(%s): %v", e.ID, err)
	}
	return closed
}

func TestTracker_FiveHourScenario(t *testing.T) {
	tr := New(5*time.Hour, 0, 0)

	mustApply(t, tr, entry("a", t0, 1000, 0.01))
	mustApply(t, tr, entry("b", t0.Add(time.Minute), 1000, 0.01))
	mustApply(t, tr, entry("c", t0.Add(4*time.Hour+59*time.Minute), 1000, 0.01))

	open := tr.Open()
	if len(open) != 1 {
		t.Fatalf("open blocks = %d, want 1", len(open))
	}
	b := open[0]
	if b.TotalTokens() != 3000 {
		t.Errorf("TotalTokens = %d, want 3000", b.TotalTokens())
	}
	if fmt.Sprintf("%.2f", b.CostUSD) != "0.03" {
		t.Errorf("CostUSD = %v, want 0.03", b.CostUSD)
	}
	if !b.EndTime.Equal(t0.Add(5 * time.Hour)) {
		t.Errorf("EndTime = %v, want start + 5h", b.EndTime)
	}

	closed := tr.Sweep(t0.Add(5 * time.Hour))
	if len(closed) != 1 || closed[0].ID != b.ID {
		t.Fatalf("Sweep closed %d blocks, want the 5h block", len(closed))
	}
	if closed[0].CloseReason != model.CloseIdle {
		t.Errorf("CloseReason = %q, want idle", closed[0].CloseReason)
	}
	if tr.Len() != 0 {
		t.Errorf("open blocks after sweep = %d, want 0", tr.Len())
	}

	mustApply(t, tr, entry("d", t0.Add(5*time.Hour+time.Minute), 1000, 0.01))
	open = tr.Open()
	if len(open) != 1 {
		t.Fatalf("open blocks = %d, want 1", len(open))
	}
	if open[0].TotalTokens() != 1000 || len(open[0].Entries) != 1 {
		t.Errorf("new block = %d tokens / %d entries, want 1000 / 1", open[0].TotalTokens(), len(open[0].Entries))
	}
	if !open[0].StartTime.Equal(t0.Add(5*time.Hour + time.Minute)) {
		t.Errorf("new block StartTime = %v, want the entry timestamp", open[0].StartTime)
	}
}

func TestTracker_HalfOpenBoundary(t *testing.T) {
	tr := New(5*time.Hour, 0, 0)
	mustApply(t, tr, entry("a", t0, 100, 0))

	closed := mustApply(t, tr, entry("b", t0.Add(5*time.Hour), 200, 0))
	if closed == nil {
		t.Fatal("entry at end_time did not roll the block over")
	}
	if closed.TotalTokens() != 100 {
		t.Errorf("closed TotalTokens = %d, want 100", closed.TotalTokens())
	}
	if closed.CloseReason != model.CloseRollover {
		t.Errorf("CloseReason = %q, want rollover", closed.CloseReason)
	}

	open := tr.Open()
	if len(open) != 1 || open[0].TotalTokens() != 200 {
		t.Fatalf("open = %+v, want one block holding the boundary entry", open)
	}
	if got := tr.Closed(); len(got) != 1 {
		t.Errorf("Closed() = %d blocks, want 1", len(got))
	}
}

func TestTracker_SessionsNeverMerge(t *testing.T) {
	tr := New(time.Hour, 0, 0)
	a := entry("a", t0, 10, 0)
	b := entry("b", t0.Add(time.Minute), 20, 0)
	b.SessionID = "s2"
	mustApply(t, tr, a)
	mustApply(t, tr, b)

	if tr.Len() != 2 {
		t.Fatalf("open blocks = %d, want 2", tr.Len())
	}
	open := tr.Open()
	if open[0].SessionID != "s1" || open[1].SessionID != "s2" {
		t.Errorf("order = %s, %s; want s1, s2 (by start)", open[0].SessionID, open[1].SessionID)
	}
}

func TestTracker_OutOfOrder(t *testing.T) {
	tr := New(5*time.Hour, 0, 0)
	mustApply(t, tr, entry("a", t0.Add(time.Hour), 100, 0.1))

	// Inside the window but earlier than the latest entry: kept, in order.
	mustApply(t, tr, entry("b", t0.Add(3*time.Hour), 100, 0.1))
	mustApply(t, tr, entry("c", t0.Add(2*time.Hour), 100, 0.1))
	b, _ := tr.Get(model.BlockKey{Project: "demo", SessionID: "s1"})
	if ids := []string{b.Entries[0].ID, b.Entries[1].ID, b.Entries[2].ID}; ids[1] != "c" {
		t.Errorf("entry order = %v, want [a c b]", ids)
	}

	// Before the block start: rejected, nothing changes.
	_, err := tr.Apply(entry("early", t0, 100, 0.1))
	if !errors.Is(err, ErrOutOfWindow) || !errors.Is(err, source.ErrMalformedRecord) {
		t.Fatalf("Apply(early) error = %v, want ErrOutOfWindow and ErrMalformedRecord", err)
	}
	b2, _ := tr.Get(model.BlockKey{Project: "demo", SessionID: "s1"})
	if b2.TotalTokens() != 300 {
		t.Errorf("TotalTokens after rejection = %d, want 300", b2.TotalTokens())
	}
}

func TestTracker_RejectsEntriesForClosedWindow(t *testing.T) {
	tr := New(time.Hour, 0, 0)
	mustApply(t, tr, entry("a", t0, 1, 0))
	tr.Sweep(t0.Add(2 * time.Hour))

	_, err := tr.Apply(entry("late", t0.Add(30*time.Minute), 1, 0))
	if !errors.Is(err, ErrOutOfWindow) {
		t.Fatalf("Apply(late) error = %v, want ErrOutOfWindow", err)
	}
	if tr.Len() != 0 {
		t.Errorf("late entry opened a block")
	}
}

func TestTracker_DuplicateLastWins(t *testing.T) {
	tr := New(5*time.Hour, 0, 0)
	mustApply(t, tr, entry("a", t0, 100, 0.10))
	mustApply(t, tr, entry("x", t0.Add(time.Minute), 50, 0.05))
	dup := entry("x", t0.Add(2*time.Minute), 80, 0.08)
	dup.Model = "claude-opus-4-6"
	mustApply(t, tr, dup)

	b := tr.Open()[0]
	if len(b.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(b.Entries))
	}
	if b.TotalTokens() != 180 {
		t.Errorf("TotalTokens = %d, want 180", b.TotalTokens())
	}
	if fmt.Sprintf("%.2f", b.CostUSD) != "0.18" {
		t.Errorf("CostUSD = %v, want 0.18", b.CostUSD)
	}
	if len(b.Models) != 2 {
		t.Errorf("Models = %v, want both models", b.Models)
	}
	if !b.LastActivity.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("LastActivity = %v, want t0+2m", b.LastActivity)
	}
}

func TestTracker_DuplicateAfterRolloverCountedOnce(t *testing.T) {
	tr := New(time.Hour, 0, 0)
	mustApply(t, tr, entry("a", t0, 100, 0.10))
	mustApply(t, tr, entry("x", t0.Add(59*time.Minute), 50, 0.05))
	if closed := mustApply(t, tr, entry("b", t0.Add(time.Hour), 10, 0.01)); closed == nil {
		t.Fatal("rollover did not close the first block")
	}
	// A repeat of x lands in the next window.
	mustApply(t, tr, entry("x", t0.Add(time.Hour+time.Minute), 50, 0.05))

	var total int64
	for _, b := range append(tr.Closed(), tr.Open()...) {
		total += b.TotalTokens()
	}
	if total != 160 {
		t.Errorf("tokens across blocks = %d, want 160 (x counted once)", total)
	}
	if got := len(tr.Open()[0].Entries); got != 1 {
		t.Errorf("open block entries = %d, want 1", got)
	}
}

func TestTracker_SweepForgetsStaleKeys(t *testing.T) {
	tr := New(time.Hour, 0, 0)
	for i := range 3 {
		e := entry("a", t0, 1, 0)
		e.SessionID = fmt.Sprintf("s%d", i)
		mustApply(t, tr, e)
	}
	tr.Sweep(t0.Add(time.Hour))
	if got := tr.Remembered(); got != 3 {
		t.Fatalf("Remembered after close = %d, want 3", got)
	}

	tr.Sweep(t0.Add(2 * time.Hour))
	if got := tr.Remembered(); got != 3 {
		t.Errorf("Remembered one window after end = %d, want 3", got)
	}
	tr.Sweep(t0.Add(2*time.Hour + time.Second))
	if got := tr.Remembered(); got != 0 {
		t.Errorf("Remembered past one window = %d, want 0", got)
	}
}

func TestTracker_TotalsMatchEntries(t *testing.T) {
	tr := New(5*time.Hour, 0, 0)
	for i := range 50 {
		e := entry(fmt.Sprintf("e%d", i), t0.Add(time.Duration(i)*17*time.Minute), int64(i+1), float64(i)*0.001)
		e.OutputTokens = int64(i)
		e.CacheReadTokens = int64(2 * i)
		if _, err := tr.Apply(e); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	blocks := append(tr.Closed(), tr.Open()...)
	seen := 0
	for _, b := range blocks {
		var tokens int64
		var cost float64
		for _, e := range b.Entries {
			if !b.Contains(e.Timestamp) {
				t.Errorf("entry %s at %v outside block [%v, %v)", e.ID, e.Timestamp, b.StartTime, b.EndTime)
			}
			tokens += e.TotalTokens()
			cost += e.CostUSD
		}
		if tokens != b.TotalTokens() {
			t.Errorf("block %s TotalTokens = %d, want %d", b.ID, b.TotalTokens(), tokens)
		}
		if d := cost - b.CostUSD; d > 1e-9 || d < -1e-9 {
			t.Errorf("block %s CostUSD = %v, want %v", b.ID, b.CostUSD, cost)
		}
		seen += len(b.Entries)
	}
	if seen != 50 {
		t.Errorf("entries across blocks = %d, want 50", seen)
	}
}

func TestTracker_IdleGrace(t *testing.T) {
	tr := New(time.Hour, 10*time.Minute, 0)
	mustApply(t, tr, entry("a", t0, 1, 0))

	if got := tr.Sweep(t0.Add(time.Hour + 5*time.Minute)); len(got) != 0 {
		t.Errorf("Sweep inside grace closed %d blocks, want 0", len(got))
	}
	if got := tr.Sweep(t0.Add(time.Hour + 10*time.Minute)); len(got) != 1 {
		t.Errorf("Sweep at end+grace closed %d blocks, want 1", len(got))
	}
}

func TestTracker_HistoryLimit(t *testing.T) {
	tr := New(time.Hour, 0, 2)
	for i := range 4 {
		mustApply(t, tr, entry(fmt.Sprintf("e%d", i), t0.Add(time.Duration(i)*time.Hour), 1, 0))
	}
	closed := tr.Closed()
	if len(closed) != 2 {
		t.Fatalf("Closed() = %d, want 2", len(closed))
	}
	if !closed[1].StartTime.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("newest closed start = %v, want t0+2h", closed[1].StartTime)
	}
}

func TestTracker_OpenIsStableWithoutChanges(t *testing.T) {
	tr := New(time.Hour, 0, 0)
	mustApply(t, tr, entry("a", t0, 1, 0))

	first := tr.Open()
	second := tr.Open()
	if &first[0].Entries[0] != &second[0].Entries[0] {
		t.Error("Open() re-cloned an unchanged block")
	}

	mustApply(t, tr, entry("b", t0.Add(time.Minute), 1, 0))
	if len(first[0].Entries) != 1 {
		t.Error("earlier Open() result was mutated by a later Apply")
	}
}

func TestBlockID_Deterministic(t *testing.T) {
	k := model.BlockKey{Project: "demo", SessionID: "s1"}
	if BlockID(k, t0) != BlockID(k, t0) {
		t.Error("BlockID not deterministic")
	}
	if BlockID(k, t0) == BlockID(k, t0.Add(time.Second)) {
		t.Error("BlockID collides across start times")
	}
}

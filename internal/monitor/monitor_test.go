package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/burnwatch/internal/clock"
	"github.com/theirongolddev/burnwatch/internal/engine"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/source"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func usageLine(msgID string, ts time.Time, input int) string {
	return fmt.Sprintf(`{"type":"assistant","timestamp":%q,"requestId":"req-%s","message":{"id":%q,"model":"claude-sonnet-4-6","usage":{"input_tokens":%d,"output_tokens":0}},"costUSD":0.01}`+"\n",
		ts.Format(time.RFC3339Nano), msgID, msgID, input)
}

func writeSession(t *testing.T, claudeDir, project, session string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(claudeDir, "projects", project)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, session+".jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	for _, l := range lines {
		if _, err := f.WriteString(l); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func newEngine(t *testing.T, fc *clock.Fake) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Options{
		Window:       5 * time.Hour,
		TickInterval: time.Hour,
		Clock:        fc,
		Logger:       zerolog.New(io.Discard),
	})
	t.Cleanup(e.Stop)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartMissingDirectory(t *testing.T) {
	fc := clock.NewFake(t0)
	m := New(filepath.Join(t.TempDir(), "nope"), newEngine(t, fc), Options{Clock: fc, Logger: zerolog.New(io.Discard)})

	err := m.Start(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Start = %v, want ErrSourceUnavailable", err)
	}
	if m.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestBackfillReplaysOpenBlocksOnly(t *testing.T) {
	claudeDir := t.TempDir()
	// Old block, long expired.
	writeSession(t, claudeDir, "-home-alice-projects-old", "s-old",
		usageLine("old1", t0.Add(-24*time.Hour), 500))
	// Current block.
	writeSession(t, claudeDir, "-home-alice-projects-live", "s-live",
		usageLine("m1", t0, 100),
		usageLine("m2", t0.Add(10*time.Minute), 200))

	fc := clock.NewFake(t0.Add(20 * time.Minute))
	eng := newEngine(t, fc)
	m := New(claudeDir, eng, Options{Backfill: true, RescanInterval: time.Hour, Clock: fc, Logger: zerolog.New(io.Discard)})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	stats := eng.RealtimeStats()
	if len(stats.ActiveBlocks) != 1 {
		t.Fatalf("ActiveBlocks = %d, want 1", len(stats.ActiveBlocks))
	}
	b := stats.ActiveBlocks[0]
	if b.Project != "live" || b.TotalTokens() != 300 {
		t.Errorf("block = %s/%d tokens, want live/300", b.Project, b.TotalTokens())
	}
	if got := m.Stats().Backfilled; got != 2 {
		t.Errorf("Backfilled = %d, want 2", got)
	}
}

func TestTailsAppendedLines(t *testing.T) {
	claudeDir := t.TempDir()
	writeSession(t, claudeDir, "-home-alice-projects-live", "s1", usageLine("m1", t0, 100))

	fc := clock.NewFake(t0.Add(time.Minute))
	eng := newEngine(t, fc)
	m := New(claudeDir, eng, Options{Backfill: true, RescanInterval: 50 * time.Millisecond, Clock: fc, Logger: zerolog.New(io.Discard)})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	writeSession(t, claudeDir, "-home-alice-projects-live", "s1", usageLine("m2", t0.Add(30*time.Second), 50))

	waitFor(t, "appended entry", func() bool {
		s := eng.RealtimeStats()
		return len(s.ActiveBlocks) == 1 && s.ActiveBlocks[0].TotalTokens() == 150
	})
}

// batchSink records the size of every IngestLines call.
type batchSink struct {
	mu      sync.Mutex
	batches []int
}

func (s *batchSink) Start(context.Context) error { return nil }
func (s *batchSink) Window() time.Duration       { return 5 * time.Hour }

func (s *batchSink) IngestLines(_ context.Context, lines [][]byte, _ source.Origin) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, len(lines))
	return len(lines), nil
}

func (s *batchSink) IngestEntries(_ context.Context, entries []model.UsageEntry) (int, error) {
	return len(entries), nil
}

func (s *batchSink) snapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

func TestTailSubmitsFileAsOneBatch(t *testing.T) {
	claudeDir := t.TempDir()
	var lines []string
	for i := range 40 {
		lines = append(lines, usageLine(fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Second), 10))
	}
	writeSession(t, claudeDir, "-home-alice-projects-bulk", "s1", lines...)

	fc := clock.NewFake(t0.Add(time.Hour))
	sink := &batchSink{}
	m := New(claudeDir, sink, Options{RescanInterval: 50 * time.Millisecond, Clock: fc, Logger: zerolog.New(io.Discard)})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, "tailed batch", func() bool { return len(sink.snapshot()) > 0 })
	time.Sleep(150 * time.Millisecond)

	if got := sink.snapshot(); len(got) != 1 || got[0] != 40 {
		t.Errorf("IngestLines batches = %v, want one batch of 40", got)
	}
	if got := m.Stats().LinesRead; got != 40 {
		t.Errorf("LinesRead = %d, want 40", got)
	}
}

func TestPicksUpNewProjectDirectory(t *testing.T) {
	claudeDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(claudeDir, "projects"), 0o750); err != nil {
		t.Fatal(err)
	}

	fc := clock.NewFake(t0.Add(time.Minute))
	eng := newEngine(t, fc)
	m := New(claudeDir, eng, Options{RescanInterval: 50 * time.Millisecond, Clock: fc, Logger: zerolog.New(io.Discard)})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	writeSession(t, claudeDir, "-home-alice-projects-fresh", "s9", usageLine("m1", t0, 42))

	waitFor(t, "entry from new project", func() bool {
		s := eng.RealtimeStats()
		return len(s.ActiveBlocks) == 1 && s.ActiveBlocks[0].Project == "fresh"
	})
}

func TestStartIdempotent(t *testing.T) {
	claudeDir := t.TempDir()
	writeSession(t, claudeDir, "-home-alice-projects-live", "s1", usageLine("m1", t0, 100))

	fc := clock.NewFake(t0.Add(time.Minute))
	eng := newEngine(t, fc)
	m := New(claudeDir, eng, Options{Backfill: true, RescanInterval: time.Hour, Clock: fc, Logger: zerolog.New(io.Discard)})

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start = %v, want nil", err)
	}
	defer m.Stop()

	s := eng.RealtimeStats()
	if len(s.ActiveBlocks) != 1 || s.ActiveBlocks[0].TotalTokens() != 100 {
		t.Errorf("second Start changed state: %+v", s.ActiveBlocks)
	}

	m.Stop()
	if m.Running() {
		t.Error("Running() = true after Stop")
	}
	if !eng.Running() {
		t.Error("engine stopped with the monitor")
	}
}

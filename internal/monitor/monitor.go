// Package monitor feeds the aggregation engine from the Claude Code log store.
// It backfills blocks that are still open, then tails session files as they grow.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/burnwatch/internal/clock"
	"github.com/theirongolddev/burnwatch/internal/logging"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/pipeline"
	"github.com/theirongolddev/burnwatch/internal/source"
)

// ErrSourceUnavailable is returned when the log store cannot be read.
var ErrSourceUnavailable = errors.New("usage log source unavailable")

// Sink receives usage records. *engine.Engine satisfies it.
type Sink interface {
	Start(ctx context.Context) error
	Window() time.Duration
	IngestLines(ctx context.Context, lines [][]byte, origin source.Origin) (int, error)
	IngestEntries(ctx context.Context, entries []model.UsageEntry) (int, error)
}

// Options configures a Monitor.
type Options struct {
	RescanInterval   time.Duration
	Backfill         bool
	IncludeSubagents bool
	Clock            clock.Clock
	Logger           zerolog.Logger
}

// Stats describes monitor activity.
type Stats struct {
	Running      bool      `json:"running"`
	ProjectsDir  string    `json:"projects_dir"`
	TrackedFiles int       `json:"tracked_files"`
	LinesRead    int64     `json:"lines_read"`
	Backfilled   int       `json:"backfilled"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
}

type runState struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Monitor tails session files under <claudeDir>/projects into a Sink.
type Monitor struct {
	claudeDir   string
	projectsDir string
	sink        Sink
	opts        Options
	log         zerolog.Logger

	mu         sync.Mutex
	state      *runState
	offsets    map[string]int64
	startedAt  time.Time
	backfilled int
	lastError  string

	linesRead atomic.Int64
}

// New returns a stopped Monitor.
func New(claudeDir string, sink Sink, opts Options) *Monitor {
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Monitor{
		claudeDir:   claudeDir,
		projectsDir: source.ProjectsDir(claudeDir),
		sink:        sink,
		opts:        opts,
		log:         logging.Component(opts.Logger, "monitor"),
		offsets:     make(map[string]int64),
	}
}

// Start begins monitoring. It is a no-op when already running. The loop
// lives until ctx is done or Stop is called, so callers should pass a
// long-lived context.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		return nil
	}

	info, err := os.Stat(m.projectsDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, m.projectsDir)
	}

	if err := m.sink.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := m.watchTree(watcher, m.projectsDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	// A restart keeps its offsets; replaying history again would only
	// produce out-of-window rejections.
	if m.opts.Backfill && len(m.offsets) == 0 {
		n, err := m.backfill(ctx)
		if err != nil {
			_ = watcher.Close()
			return err
		}
		m.backfilled = n
	}

	loopCtx, cancel := context.WithCancel(ctx)
	st := &runState{cancel: cancel, done: make(chan struct{})}
	m.state = st
	m.startedAt = m.opts.Clock.Now()

	m.log.Info().
		Str("dir", m.projectsDir).
		Int("backfilled", m.backfilled).
		Dur("rescan", m.opts.RescanInterval).
		Msg("monitoring started")

	go m.run(loopCtx, watcher, st)
	return nil
}

// Stop halts monitoring and waits for the loop to exit. The engine keeps running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()
	if st == nil {
		return
	}
	st.cancel()
	<-st.done
}

// Running reports whether the tail loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil
}

// Stats returns a summary of monitor activity.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Running:      m.state != nil,
		ProjectsDir:  m.projectsDir,
		TrackedFiles: len(m.offsets),
		LinesRead:    m.linesRead.Load(),
		Backfilled:   m.backfilled,
		StartedAt:    m.startedAt,
		LastError:    m.lastError,
	}
}

// backfill loads the log store and replays entries of blocks still open at
// now, so the engine starts with the same blocks it would have built live.
// Offsets are taken before loading; lines written in between are read
// again by the tailer and deduplicate by entry ID.
func (m *Monitor) backfill(ctx context.Context) (int, error) {
	files, err := source.ScanDir(m.claudeDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	for _, f := range files {
		if f.IsSubagent && !m.opts.IncludeSubagents {
			continue
		}
		if info, err := os.Stat(f.Path); err == nil {
			m.offsets[f.Path] = info.Size()
		}
	}

	res, err := pipeline.Load(m.claudeDir, m.opts.IncludeSubagents, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	now := m.opts.Clock.Now()
	var live []model.UsageEntry
	for _, b := range pipeline.BuildBlocks(res.Entries, m.sink.Window()) {
		if now.Before(b.EndTime) {
			live = append(live, b.Entries...)
		}
	}
	slices.SortStableFunc(live, func(a, b model.UsageEntry) int { return a.Timestamp.Compare(b.Timestamp) })

	applied, err := m.sink.IngestEntries(ctx, live)
	if err != nil {
		m.log.Warn().Err(err).Int("applied", applied).Msg("backfill skipped entries")
	}
	m.log.Debug().
		Int("files", res.TotalFiles).
		Int("entries", len(res.Entries)).
		Int("applied", applied).
		Msg("backfill complete")
	return applied, nil
}

func (m *Monitor) run(ctx context.Context, watcher *fsnotify.Watcher, st *runState) {
	defer func() {
		_ = watcher.Close()
		m.mu.Lock()
		m.state = nil
		m.mu.Unlock()
		close(st.done)
		m.log.Info().Msg("monitoring stopped")
	}()

	ticker := time.NewTicker(m.opts.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(ctx, watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.setError(err)
			m.log.Error().Err(err).Msg("file watcher error")
		case <-ticker.C:
			m.rescan(ctx, watcher)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := m.watchTree(watcher, ev.Name); err != nil {
				m.log.Warn().Err(err).Str("dir", ev.Name).Msg("watch new directory")
			}
			// Files may have landed before the watch was added.
			m.tailTree(ctx, ev.Name)
			return
		}
	}
	if strings.HasSuffix(ev.Name, ".jsonl") {
		m.tail(ctx, ev.Name)
	}
}

// rescan catches writes the watcher missed (network filesystems, overflow).
func (m *Monitor) rescan(ctx context.Context, watcher *fsnotify.Watcher) {
	if err := m.watchTree(watcher, m.projectsDir); err != nil {
		m.setError(err)
		m.log.Warn().Err(err).Msg("rescan")
		return
	}
	m.tailTree(ctx, m.projectsDir)
}

func (m *Monitor) tailTree(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if !d.IsDir() && strings.HasSuffix(path, ".jsonl") {
			m.tail(ctx, path)
		}
		return nil
	})
}

func (m *Monitor) tail(ctx context.Context, path string) {
	df, ok := source.Discover(m.projectsDir, path)
	if !ok || (df.IsSubagent && !m.opts.IncludeSubagents) {
		return
	}

	m.mu.Lock()
	offset := m.offsets[path]
	m.mu.Unlock()

	if info, err := os.Stat(path); err == nil {
		switch {
		case info.Size() == offset:
			return
		case info.Size() < offset:
			m.log.Info().Str("file", path).Msg("file truncated, reading from start")
		}
	}

	res, err := source.ReadAppended(path, offset)
	m.mu.Lock()
	m.offsets[path] = res.Offset
	m.mu.Unlock()
	if err != nil {
		m.setError(err)
		m.log.Warn().Err(err).Str("file", path).Msg("read appended records")
		return
	}

	if len(res.Lines) == 0 {
		return
	}
	m.linesRead.Add(int64(len(res.Lines)))
	// Rejections are counted and logged by the sink.
	_, _ = m.sink.IngestLines(ctx, res.Lines, df.Origin())
}

func (m *Monitor) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (m *Monitor) setError(err error) {
	m.mu.Lock()
	m.lastError = err.Error()
	m.mu.Unlock()
}

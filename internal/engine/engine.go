// Package engine runs the realtime aggregator: a single owner goroutine that
// applies usage entries to billing blocks and publishes immutable snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/burnwatch/internal/blocks"
	"github.com/theirongolddev/burnwatch/internal/burnrate"
	"github.com/theirongolddev/burnwatch/internal/clock"
	"github.com/theirongolddev/burnwatch/internal/logging"
	"github.com/theirongolddev/burnwatch/internal/metrics"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/source"
)

var (
	// ErrAlreadyRunning is returned by Run when the loop is already active.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrNotRunning is returned when entries are submitted while the loop is stopped.
	ErrNotRunning = errors.New("engine not running")
)

// Options configures an Engine.
type Options struct {
	Window           time.Duration
	IdleGrace        time.Duration
	HistoryLimit     int
	Thresholds       burnrate.Thresholds
	TickInterval     time.Duration
	SubscriberBuffer int
	// Strict makes invariant violations panic instead of yielding zero rates.
	Strict  bool
	Clock   clock.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

func (o *Options) applyDefaults() {
	if o.Window <= 0 {
		o.Window = 5 * time.Hour
	}
	if o.Thresholds == (burnrate.Thresholds{}) {
		o.Thresholds = burnrate.DefaultThresholds()
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 16
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
}

// published is everything readers see, swapped as one pointer.
type published struct {
	stats   model.RealtimeStats
	current model.CurrentBlockStatus
	history []model.SessionBlock
}

type request struct {
	entries []model.UsageEntry
	reply   chan result
}

type result struct {
	applied int
	err     error
	stats   model.RealtimeStats
}

type loopState struct {
	quit chan struct{}
	done chan struct{}
}

// Engine owns the open billing blocks. Entries are applied only by the loop
// goroutine; readers take the last published snapshot without blocking it.
type Engine struct {
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Collector

	// owned by the loop goroutine
	tracker      *blocks.Tracker
	calc         burnrate.Calculator
	classifier   burnrate.Classifier
	historyDirty bool

	requests chan request
	snap     atomic.Pointer[published]

	mu      sync.Mutex
	loop    *loopState
	subs    map[int]chan model.RealtimeStats
	nextSub int
}

// New returns a stopped Engine.
func New(opts Options) *Engine {
	opts.applyDefaults()
	e := &Engine{
		opts:       opts,
		log:        logging.Component(opts.Logger, "engine"),
		metrics:    opts.Metrics,
		tracker:    blocks.New(opts.Window, opts.IdleGrace, opts.HistoryLimit),
		classifier: burnrate.NewClassifier(opts.Thresholds),
		requests:   make(chan request),
		subs:       make(map[int]chan model.RealtimeStats),
	}
	e.calc = burnrate.Calculator{
		Strict: opts.Strict,
		OnInvariant: func(msg string) {
			e.log.Error().Msg(msg)
		},
	}
	e.snap.Store(&published{stats: model.RealtimeStats{
		ActiveBlocks: []model.SessionBlock{},
		BurnRates:    []model.BlockBurnRate{},
	}})
	return e
}

// Window returns the billing window duration.
func (e *Engine) Window() time.Duration {
	return e.opts.Window
}

// Classifier returns the classifier used for live snapshots.
func (e *Engine) Classifier() burnrate.Classifier {
	return e.classifier
}

// Run drives the aggregation loop until ctx is done or Stop is called.
// It returns ErrAlreadyRunning if another Run is active.
func (e *Engine) Run(ctx context.Context) error {
	ls, err := e.begin()
	if err != nil {
		return err
	}
	e.run(ctx, ls)
	return nil
}

// Start launches the loop in the background. It is a no-op when the loop
// is already running.
func (e *Engine) Start(ctx context.Context) error {
	ls, err := e.begin()
	if errors.Is(err, ErrAlreadyRunning) {
		return nil
	}
	if err != nil {
		return err
	}
	go e.run(ctx, ls)
	return nil
}

// Stop halts the loop and waits for it to exit. Published snapshots remain readable.
func (e *Engine) Stop() {
	e.mu.Lock()
	ls := e.loop
	if ls != nil {
		select {
		case <-ls.quit:
		default:
			close(ls.quit)
		}
	}
	e.mu.Unlock()

	if ls != nil {
		<-ls.done
	}
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop != nil
}

func (e *Engine) begin() (*loopState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loop != nil {
		return nil, ErrAlreadyRunning
	}
	e.loop = &loopState{quit: make(chan struct{}), done: make(chan struct{})}
	return e.loop, nil
}

func (e *Engine) run(ctx context.Context, ls *loopState) {
	defer func() {
		e.mu.Lock()
		e.loop = nil
		e.mu.Unlock()
		close(ls.done)
	}()

	e.log.Debug().Dur("window", e.opts.Window).Dur("tick", e.opts.TickInterval).Msg("aggregation loop started")
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	e.cycle()
	for {
		select {
		case <-ctx.Done():
			e.log.Debug().Msg("aggregation loop stopped")
			return
		case <-ls.quit:
			e.log.Debug().Msg("aggregation loop stopped")
			return
		case <-ticker.C:
			e.cycle()
		case req := <-e.requests:
			applied, err := e.apply(req.entries)
			stats := e.cycle()
			req.reply <- result{applied: applied, err: err, stats: stats}
		}
	}
}

// Ingest normalizes one raw log record and applies it. Malformed records
// return an error matching source.ErrMalformedRecord; records without usage
// return source.ErrNoUsage. Neither affects other entries.
func (e *Engine) Ingest(ctx context.Context, raw []byte, origin source.Origin) error {
	entry, err := source.Normalize(raw, origin)
	if err != nil {
		if !errors.Is(err, source.ErrNoUsage) {
			e.reject(err)
		}
		return err
	}
	return e.IngestEntry(ctx, entry)
}

// IngestLines normalizes raw records sharing one origin and applies the
// usable ones as a single batch. Records without usage are skipped silently;
// malformed ones are counted, reported, and never block the rest.
func (e *Engine) IngestLines(ctx context.Context, lines [][]byte, origin source.Origin) (int, error) {
	var errs []error
	entries := make([]model.UsageEntry, 0, len(lines))
	for _, raw := range lines {
		entry, err := source.Normalize(raw, origin)
		if err != nil {
			if !errors.Is(err, source.ErrNoUsage) {
				e.reject(err)
				errs = append(errs, err)
			}
			continue
		}
		entries = append(entries, entry)
	}
	applied, err := e.IngestEntries(ctx, entries)
	if err != nil {
		errs = append(errs, err)
	}
	return applied, errors.Join(errs...)
}

// IngestEntry applies one normalized entry.
func (e *Engine) IngestEntry(ctx context.Context, entry model.UsageEntry) error {
	_, err := e.IngestEntries(ctx, []model.UsageEntry{entry})
	return err
}

// IngestEntries applies entries in order as one batch followed by a single
// snapshot. It returns how many were applied and the joined rejections.
func (e *Engine) IngestEntries(ctx context.Context, entries []model.UsageEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	res, err := e.submit(ctx, entries)
	if err != nil {
		return 0, err
	}
	return res.applied, res.err
}

// Refresh forces an aggregation cycle and returns the resulting snapshot.
func (e *Engine) Refresh(ctx context.Context) (model.RealtimeStats, error) {
	res, err := e.submit(ctx, nil)
	if err != nil {
		return e.RealtimeStats(), err
	}
	return res.stats, nil
}

func (e *Engine) submit(ctx context.Context, entries []model.UsageEntry) (result, error) {
	e.mu.Lock()
	ls := e.loop
	e.mu.Unlock()
	if ls == nil {
		return result{}, ErrNotRunning
	}

	req := request{entries: entries, reply: make(chan result, 1)}
	select {
	case e.requests <- req:
	case <-ls.done:
		return result{}, ErrNotRunning
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	// The loop always replies to a request it received.
	return <-req.reply, nil
}

func (e *Engine) apply(entries []model.UsageEntry) (int, error) {
	var errs []error
	applied := 0
	for _, entry := range entries {
		before := e.tracker.Len()
		closed, err := e.tracker.Apply(entry)
		if err != nil {
			e.reject(err)
			errs = append(errs, err)
			continue
		}
		applied++
		e.metrics.RecordIngested()
		if closed != nil {
			e.closed(*closed)
		}
		if closed != nil || e.tracker.Len() > before {
			e.metrics.RecordOpened()
		}
	}
	return applied, errors.Join(errs...)
}

func (e *Engine) reject(err error) {
	reason := source.Reason(err)
	if errors.Is(err, blocks.ErrOutOfWindow) {
		reason = "out of window"
	}
	e.metrics.RecordRejected(reason)
	e.log.Warn().Err(err).Str("reason", reason).Msg("rejected usage record")
}

func (e *Engine) closed(b model.SessionBlock) {
	e.historyDirty = true
	e.metrics.RecordClosed(b.CloseReason)
	e.log.Info().
		Str("block", b.ID).
		Str("project", b.Project).
		Str("session", b.SessionID).
		Str("reason", string(b.CloseReason)).
		Int64("tokens", b.TotalTokens()).
		Float64("cost_usd", b.CostUSD).
		Msg("billing block closed")
}

// cycle sweeps expired blocks, rates the open ones and publishes a snapshot.
func (e *Engine) cycle() model.RealtimeStats {
	began := time.Now()
	now := e.opts.Clock.Now()

	for _, b := range e.tracker.Sweep(now) {
		e.closed(b)
	}

	prev := e.snap.Load()
	if now.Before(prev.stats.LastUpdate) {
		now = prev.stats.LastUpdate
	}

	open := e.tracker.Open()
	stats := model.RealtimeStats{
		ActiveBlocks: open,
		BurnRates:    make([]model.BlockBurnRate, 0, len(open)),
		LastUpdate:   now,
	}
	var current model.CurrentBlockStatus
	var latest *model.SessionBlock

	for i := range open {
		b := &open[i]
		// Entries stamped ahead of the local clock are rated as just opened.
		at := now
		if at.Before(b.StartTime) {
			at = b.StartTime
		}
		rate := e.calc.Calculate(*b, at)
		status := e.classifier.Status(*b, rate, at)
		stats.BurnRates = append(stats.BurnRates, model.BlockBurnRate{BlockID: b.ID, BurnRate: rate, Status: status})
		stats.TotalTokensPerMinute += rate.TokensPerMinute
		stats.TotalCostPerHour += rate.CostPerHour

		if latest == nil || b.LastActivity.After(latest.LastActivity) ||
			(b.LastActivity.Equal(latest.LastActivity) && b.StartTime.After(latest.StartTime)) {
			latest = b
			current = model.CurrentBlockStatus{
				IsActive:         true,
				BlockID:          b.ID,
				Project:          b.Project,
				SessionID:        b.SessionID,
				StartTime:        b.StartTime,
				EndTime:          b.EndTime,
				RemainingMinutes: b.Remaining(at).Minutes(),
				TotalCost:        b.CostUSD,
				TotalTokens:      b.TotalTokens(),
				BurnRate:         rate,
				BurnRateStatus:   status,
			}
		}
	}

	history := prev.history
	if e.historyDirty {
		history = e.tracker.Closed()
		e.historyDirty = false
	}

	e.snap.Store(&published{stats: stats, current: current, history: history})
	e.broadcast(stats)
	e.metrics.RecordSnapshot(stats, time.Since(began))
	return stats
}

// RealtimeStats returns the most recently published snapshot. Callers must
// treat it as read-only.
func (e *Engine) RealtimeStats() model.RealtimeStats {
	return e.snap.Load().stats
}

// CurrentBlockStatus projects the most recently active open block.
// IsActive is false when no block is open.
func (e *Engine) CurrentBlockStatus() model.CurrentBlockStatus {
	return e.snap.Load().current
}

// History returns recently closed blocks, oldest first.
func (e *Engine) History() []model.SessionBlock {
	return slices.Clone(e.snap.Load().history)
}

// Subscribe registers for snapshot pushes, starting with the current
// snapshot. When a slow reader's buffer is full the oldest pending snapshot
// is dropped, so the newest is always delivered. cancel unregisters and
// closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan model.RealtimeStats, func()) {
	if buffer <= 0 {
		buffer = e.opts.SubscriberBuffer
	}
	ch := make(chan model.RealtimeStats, buffer)

	// Registering and enqueueing under one lock means any later publish
	// reaches the channel after the initial snapshot.
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.RealtimeStats()
	n := len(e.subs)
	e.mu.Unlock()
	e.metrics.SetSubscribers(n)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			n := len(e.subs)
			close(ch)
			e.mu.Unlock()
			e.metrics.SetSubscribers(n)
		})
	}
}

// OnUpdate calls fn with every published snapshot until ctx is done or the
// returned cancel is called. fn runs on its own goroutine, never the loop's.
func (e *Engine) OnUpdate(ctx context.Context, fn func(model.RealtimeStats)) func() {
	ch, cancel := e.Subscribe(1)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-ch:
				if !ok {
					return
				}
				fn(s)
			}
		}
	}()
	return cancel
}

func (e *Engine) broadcast(s model.RealtimeStats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// String describes the engine state for logs.
func (e *Engine) String() string {
	s := e.RealtimeStats()
	return fmt.Sprintf("engine(running=%v open=%d tpm=%.0f)", e.Running(), len(s.ActiveBlocks), s.TotalTokensPerMinute)
}

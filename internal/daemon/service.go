// Package daemon provides the long-running burn-rate service and its HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/burnwatch/internal/clock"
	"github.com/theirongolddev/burnwatch/internal/engine"
	"github.com/theirongolddev/burnwatch/internal/logging"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/monitor"
	"github.com/theirongolddev/burnwatch/internal/pipeline"
	"github.com/theirongolddev/burnwatch/internal/store"
)

// Config controls the daemon runtime behavior.
type Config struct {
	ClaudeDir        string
	Days             int
	IncludeSubagents bool
	UseCache         bool
	// StartMonitor begins tailing the log store when Run starts.
	StartMonitor bool
	Addr         string
	EventsBuffer int
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Engine     *engine.Engine
	Monitor    *monitor.Monitor
	Summarizer pipeline.Summarizer
	// Observers receive every published snapshot (alerting).
	Observers []func(model.RealtimeStats)
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
	Clock     clock.Clock
}

// Snapshot is a compact engine state for status/event payloads.
type Snapshot struct {
	At              time.Time   `json:"at"`
	ActiveBlocks    int         `json:"active_blocks"`
	Tokens          int64       `json:"tokens"`
	CostUSD         float64     `json:"cost_usd"`
	TokensPerMinute float64     `json:"tokens_per_minute"`
	CostPerHour     float64     `json:"cost_per_hour"`
	MaxLevel        model.Level `json:"max_level"`
}

// Delta captures snapshot deltas between updates.
type Delta struct {
	ActiveBlocks int     `json:"active_blocks"`
	Tokens       int64   `json:"tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (d Delta) isZero() bool {
	return d.ActiveBlocks == 0 &&
		d.Tokens == 0 &&
		d.CostUSD == 0
}

// Event types.
const (
	EventSnapshot    = "snapshot"
	EventUsageDelta  = "usage_delta"
	EventBlockOpened = "block_opened"
	EventBlockClosed = "block_closed"
	EventLevelChange = "level_change"
)

// Event is emitted whenever the engine publishes a materially different snapshot.
type Event struct {
	ID        int64       `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Snapshot  Snapshot    `json:"snapshot"`
	Delta     Delta       `json:"delta"`
	BlockID   string      `json:"block_id,omitempty"`
	Project   string      `json:"project,omitempty"`
	Level     model.Level `json:"level,omitempty"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time     `json:"started_at"`
	LastUpdateAt    time.Time     `json:"last_update_at"`
	UpdateCount     int64         `json:"update_count"`
	EngineRunning   bool          `json:"engine_running"`
	WindowMinutes   float64       `json:"window_minutes"`
	ClaudeDir       string        `json:"claude_dir"`
	Days            int           `json:"days"`
	Summary         Snapshot      `json:"summary"`
	Monitor         monitor.Stats `json:"monitor"`
	LastError       string        `json:"last_error,omitempty"`
	EventCount      int           `json:"event_count"`
	SubscriberCount int           `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg        Config
	engine     *engine.Engine
	monitor    *monitor.Monitor
	summarizer pipeline.Summarizer
	observers  []func(model.RealtimeStats)
	gatherer   prometheus.Gatherer
	log        zerolog.Logger
	clock      clock.Clock

	// baseCtx outlives requests; the monitor started over HTTP runs under it.
	baseCtx context.Context

	mu           sync.RWMutex
	startedAt    time.Time
	lastUpdateAt time.Time
	updateCount  int64
	lastError    string
	hasSnapshot  bool
	snapshot     Snapshot
	blocks       map[string]blockState
	nextEventID  int64
	events       []Event

	nextSubID int
	subs      map[int]chan Event
}

type blockState struct {
	project string
	level   model.Level
}

// New returns a new daemon service.
func New(cfg Config, deps Deps) *Service {
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	if cfg.Days < 1 {
		cfg.Days = 30
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Summarizer.Window == 0 && deps.Engine != nil {
		deps.Summarizer.Window = deps.Engine.Window()
		deps.Summarizer.Classifier = deps.Engine.Classifier()
	}

	return &Service{
		cfg:        cfg,
		engine:     deps.Engine,
		monitor:    deps.Monitor,
		summarizer: deps.Summarizer,
		observers:  deps.Observers,
		gatherer:   deps.Gatherer,
		log:        logging.Component(deps.Logger, "daemon"),
		clock:      deps.Clock,
		baseCtx:    context.Background(),
		startedAt:  deps.Clock.Now(),
		blocks:     make(map[string]blockState),
		subs:       make(map[int]chan Event),
	}
}

// Run starts the engine, optionally the monitor, and the HTTP endpoints
// until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer s.engine.Stop()

	cancelUpdates := s.engine.OnUpdate(ctx, s.observe)
	defer cancelUpdates()

	if s.cfg.StartMonitor && s.monitor != nil {
		if err := s.monitor.Start(ctx); err != nil {
			// The API stays useful for pushed records; report and carry on.
			s.setError(err)
			s.log.Error().Err(err).Msg("monitor did not start")
		}
		defer s.monitor.Stop()
	}

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("daemon listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("daemon http server: %w", err)
	}
}

// observe turns an engine snapshot into events.
func (s *Service) observe(stats model.RealtimeStats) {
	for _, fn := range s.observers {
		fn(stats)
	}

	now := stats.LastUpdate
	snap := snapshotFromStats(stats)
	current := make(map[string]blockState, len(stats.ActiveBlocks))
	for i, b := range stats.ActiveBlocks {
		current[b.ID] = blockState{project: b.Project, level: stats.BurnRates[i].Status.Level}
	}

	var pending []Event

	s.mu.Lock()
	prev := s.snapshot
	prevExists := s.hasSnapshot
	prevBlocks := s.blocks

	s.hasSnapshot = true
	s.snapshot = snap
	s.blocks = current
	s.lastUpdateAt = now
	s.updateCount++

	if !prevExists {
		pending = append(pending, Event{Type: EventSnapshot, Snapshot: snap})
	} else {
		for id, st := range prevBlocks {
			if _, ok := current[id]; !ok {
				pending = append(pending, Event{Type: EventBlockClosed, BlockID: id, Project: st.project})
			}
		}
		for _, b := range stats.ActiveBlocks {
			st := current[b.ID]
			old, ok := prevBlocks[b.ID]
			switch {
			case !ok:
				pending = append(pending, Event{Type: EventBlockOpened, BlockID: b.ID, Project: st.project, Level: st.level})
			case old.level != st.level:
				pending = append(pending, Event{Type: EventLevelChange, BlockID: b.ID, Project: st.project, Level: st.level})
			}
		}
		if delta := diffSnapshots(prev, snap); !delta.isZero() {
			pending = append(pending, Event{Type: EventUsageDelta, Snapshot: snap, Delta: delta})
		}
	}
	for i := range pending {
		s.nextEventID++
		pending[i].ID = s.nextEventID
		pending[i].Timestamp = now
		pending[i].Snapshot = snap
	}
	s.mu.Unlock()

	for _, ev := range pending {
		s.publishEvent(ev)
	}
}

func snapshotFromStats(stats model.RealtimeStats) Snapshot {
	snap := Snapshot{
		At:              stats.LastUpdate,
		ActiveBlocks:    len(stats.ActiveBlocks),
		TokensPerMinute: stats.TotalTokensPerMinute,
		CostPerHour:     stats.TotalCostPerHour,
		MaxLevel:        stats.MaxLevel(),
	}
	for _, b := range stats.ActiveBlocks {
		snap.Tokens += b.TotalTokens()
		snap.CostUSD += b.CostUSD
	}
	return snap
}

func diffSnapshots(prev, curr Snapshot) Delta {
	return Delta{
		ActiveBlocks: curr.ActiveBlocks - prev.ActiveBlocks,
		Tokens:       curr.Tokens - prev.Tokens,
		CostUSD:      curr.CostUSD - prev.CostUSD,
	}
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) loadEntries() ([]model.UsageEntry, error) {
	if s.cfg.UseCache {
		cache, err := store.Open(pipeline.CachePath())
		if err == nil {
			defer func() { _ = cache.Close() }()
			cr, loadErr := pipeline.LoadWithCache(s.cfg.ClaudeDir, s.cfg.IncludeSubagents, cache, nil)
			if loadErr == nil {
				return cr.Entries, nil
			}
			s.log.Warn().Err(loadErr).Msg("cached load failed, doing full parse")
		}
	}

	result, err := pipeline.Load(s.cfg.ClaudeDir, s.cfg.IncludeSubagents, nil)
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

func (s *Service) setError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	st := Status{
		StartedAt:       s.startedAt,
		LastUpdateAt:    s.lastUpdateAt,
		UpdateCount:     s.updateCount,
		ClaudeDir:       s.cfg.ClaudeDir,
		Days:            s.cfg.Days,
		Summary:         s.snapshot,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
	s.mu.RUnlock()

	st.EngineRunning = s.engine.Running()
	st.WindowMinutes = s.engine.Window().Minutes()
	if s.monitor != nil {
		st.Monitor = s.monitor.Stats()
	}
	return st
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/burnwatch/internal/engine"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/monitor"
	"github.com/theirongolddev/burnwatch/internal/pipeline"
	"github.com/theirongolddev/burnwatch/internal/source"
)

var errBadQuery = errors.New("bad query")

// maxIngestBytes bounds a single POST /v1/ingest or /v1/billing-blocks body.
const maxIngestBytes = 32 << 20

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/realtime", s.handleRealtime)
		r.Get("/blocks/current", s.handleCurrentBlock)
		r.Get("/blocks/history", s.handleHistory)
		r.Get("/projects", s.handleProjects)
		r.Get("/models", s.handleModels)
		r.Get("/billing-blocks", s.handleBillingBlocks)
		r.Post("/billing-blocks", s.handleBillingBlocksPost)
		r.Post("/ingest", s.handleIngest)
		r.Post("/monitor/start", s.handleMonitorStart)
		r.Get("/events", s.handleEvents)
		r.Get("/stream", s.handleStream)
	})
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				return
			}
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus())
}

func (s *Service) handleRealtime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.RealtimeStats())
}

func (s *Service) handleCurrentBlock(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CurrentBlockStatus())
}

func (s *Service) handleHistory(w http.ResponseWriter, _ *http.Request) {
	hist := s.engine.History()
	if hist == nil {
		hist = []model.SessionBlock{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// window resolves the ?days= and ?project= query against the service defaults.
// until is left zero: entries stamped ahead of the server clock still count,
// as they do for live tracking.
func (s *Service) window(r *http.Request) (since, until time.Time, project string, err error) {
	days := s.cfg.Days
	if v := r.URL.Query().Get("days"); v != "" {
		days, err = strconv.Atoi(v)
		if err != nil || days < 1 {
			return since, until, "", fmt.Errorf("%w: invalid days %q", errBadQuery, v)
		}
	}
	since = s.clock.Now().AddDate(0, 0, -days)
	return since, until, r.URL.Query().Get("project"), nil
}

func (s *Service) filteredEntries(r *http.Request) ([]model.UsageEntry, time.Time, time.Time, error) {
	since, until, project, err := s.window(r)
	if err != nil {
		return nil, since, until, err
	}
	entries, err := s.loadEntries()
	if err != nil {
		return nil, since, until, err
	}
	if project != "" {
		entries = pipeline.FilterByProject(entries, project)
	}
	return entries, since, until, nil
}

func (s *Service) handleProjects(w http.ResponseWriter, r *http.Request) {
	entries, since, until, err := s.filteredEntries(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline.AggregateProjects(entries, since, until))
}

func (s *Service) handleModels(w http.ResponseWriter, r *http.Request) {
	entries, since, until, err := s.filteredEntries(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline.AggregateModels(entries, since, until))
}

// handleBillingBlocks replays each session's full history and returns the
// blocks ending inside the ?days= window.
func (s *Service) handleBillingBlocks(w http.ResponseWriter, r *http.Request) {
	entries, since, _, err := s.filteredEntries(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeBillingBlocks(w, r, entries, since)
}

// handleBillingBlocksPost summarizes a caller-supplied batch of entries.
func (s *Service) handleBillingBlocksPost(w http.ResponseWriter, r *http.Request) {
	var entries []model.UsageEntry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBytes)).Decode(&entries); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode entries: %w", err))
		return
	}
	s.writeBillingBlocks(w, r, entries, time.Time{})
}

func (s *Service) writeBillingBlocks(w http.ResponseWriter, r *http.Request, entries []model.UsageEntry, since time.Time) {
	now := s.clock.Now()
	if r.URL.Query().Get("active") != "" {
		if cur, ok := s.summarizer.CurrentBillingBlock(entries, now); ok {
			writeJSON(w, http.StatusOK, []model.BillingBlockSummary{cur})
			return
		}
		writeJSON(w, http.StatusOK, []model.BillingBlockSummary{})
		return
	}
	writeJSON(w, http.StatusOK, s.summarizer.SummarizeBlocksSince(entries, since, now))
}

// IngestResult is the response of POST /v1/ingest.
type IngestResult struct {
	Accepted int      `json:"accepted"`
	Skipped  int      `json:"skipped"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// handleIngest accepts JSONL records. ?project= and ?session= supply the
// origin for records that do not carry it.
func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	origin := source.Origin{
		Project:   r.URL.Query().Get("project"),
		SessionID: r.URL.Query().Get("session"),
	}

	var res IngestResult
	sc := bufio.NewScanner(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	sc.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)
	for sc.Scan() {
		line := []byte(strings.TrimSpace(sc.Text()))
		if len(line) == 0 {
			continue
		}
		err := s.engine.Ingest(r.Context(), line, origin)
		switch {
		case err == nil:
			res.Accepted++
		case errors.Is(err, source.ErrNoUsage):
			res.Skipped++
		case errors.Is(err, source.ErrMalformedRecord):
			res.Rejected++
			res.Errors = append(res.Errors, err.Error())
		default:
			writeError(w, statusFor(err), err)
			return
		}
	}
	if err := sc.Err(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleMonitorStart(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusNotImplemented, errors.New("monitor not configured"))
		return
	}
	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()

	if err := s.monitor.Start(ctx); err != nil {
		s.setError(err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Stats())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotRunning), errors.Is(err, monitor.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadQuery):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Send current snapshot immediately.
	current := Event{
		Type:      EventSnapshot,
		Timestamp: s.clock.Now(),
		Snapshot:  s.snapshotStatus().Summary,
	}
	writeSSE(w, current)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if ev.ID > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", ev.ID)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

// Package metrics provides Prometheus metrics for the burnwatch engine and daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theirongolddev/burnwatch/internal/model"
)

// Collector holds all Prometheus metrics for burnwatch.
// Recording methods are safe on a nil Collector.
type Collector struct {
	// Ingest metrics
	EntriesIngested prometheus.Counter
	EntriesRejected *prometheus.CounterVec

	// Block metrics
	BlocksOpened prometheus.Counter
	BlocksClosed *prometheus.CounterVec
	OpenBlocks   prometheus.Gauge

	// Burn rate metrics
	TokensPerMinute prometheus.Gauge
	CostPerHour     prometheus.Gauge
	BlocksByLevel   *prometheus.GaugeVec

	// Aggregation metrics
	CycleDuration      prometheus.Histogram
	SnapshotsPublished prometheus.Counter
	Subscribers        prometheus.Gauge

	// Alert metrics
	AlertsSent  *prometheus.CounterVec
	AlertErrors prometheus.Counter
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		EntriesIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "burnwatch",
			Name:      "entries_ingested_total",
			Help:      "Usage entries applied to a billing block",
		}),
		EntriesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burnwatch",
			Name:      "entries_rejected_total",
			Help:      "Records rejected as malformed, by reason",
		}, []string{"reason"}),

		BlocksOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "burnwatch",
			Name:      "blocks_opened_total",
			Help:      "Billing blocks opened",
		}),
		BlocksClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burnwatch",
			Name:      "blocks_closed_total",
			Help:      "Billing blocks closed, by reason",
		}, []string{"reason"}),
		OpenBlocks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "burnwatch",
			Name:      "open_blocks",
			Help:      "Billing blocks currently open",
		}),

		TokensPerMinute: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "burnwatch",
			Name:      "tokens_per_minute",
			Help:      "Aggregate burn rate across open blocks",
		}),
		CostPerHour: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "burnwatch",
			Name:      "cost_per_hour_usd",
			Help:      "Aggregate cost rate across open blocks",
		}),
		BlocksByLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "burnwatch",
			Name:      "blocks_by_level",
			Help:      "Open blocks per burn-rate level",
		}, []string{"level"}),

		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "burnwatch",
			Name:      "aggregation_cycle_seconds",
			Help:      "Time spent building one realtime snapshot",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		SnapshotsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "burnwatch",
			Name:      "snapshots_published_total",
			Help:      "Realtime snapshots published",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "burnwatch",
			Name:      "subscribers",
			Help:      "Active snapshot subscribers",
		}),

		AlertsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burnwatch",
			Name:      "alerts_sent_total",
			Help:      "Burn-rate alerts delivered, by level",
		}, []string{"level"}),
		AlertErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "burnwatch",
			Name:      "alert_errors_total",
			Help:      "Burn-rate alerts that failed to deliver",
		}),
	}
}

// RecordIngested counts an applied entry.
func (c *Collector) RecordIngested() {
	if c == nil {
		return
	}
	c.EntriesIngested.Inc()
}

// RecordRejected counts a rejected record.
func (c *Collector) RecordRejected(reason string) {
	if c == nil {
		return
	}
	c.EntriesRejected.WithLabelValues(reason).Inc()
}

// RecordOpened counts a newly opened block.
func (c *Collector) RecordOpened() {
	if c == nil {
		return
	}
	c.BlocksOpened.Inc()
}

// RecordClosed counts a closed block.
func (c *Collector) RecordClosed(reason model.CloseReason) {
	if c == nil {
		return
	}
	c.BlocksClosed.WithLabelValues(string(reason)).Inc()
}

// RecordSnapshot updates gauges from a published snapshot.
func (c *Collector) RecordSnapshot(s model.RealtimeStats, took time.Duration) {
	if c == nil {
		return
	}
	c.OpenBlocks.Set(float64(len(s.ActiveBlocks)))
	c.TokensPerMinute.Set(s.TotalTokensPerMinute)
	c.CostPerHour.Set(s.TotalCostPerHour)

	counts := make(map[model.Level]int, 4)
	for _, r := range s.BurnRates {
		counts[r.Status.Level]++
	}
	for l := model.LevelLow; l <= model.LevelCritical; l++ {
		c.BlocksByLevel.WithLabelValues(l.String()).Set(float64(counts[l]))
	}

	c.CycleDuration.Observe(took.Seconds())
	c.SnapshotsPublished.Inc()
}

// SetSubscribers records the current subscriber count.
func (c *Collector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

// RecordAlert counts an alert delivery attempt.
func (c *Collector) RecordAlert(level model.Level, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.AlertErrors.Inc()
		return
	}
	c.AlertsSent.WithLabelValues(level.String()).Inc()
}

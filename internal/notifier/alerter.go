package notifier

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/burnwatch/internal/logging"
	"github.com/theirongolddev/burnwatch/internal/metrics"
	"github.com/theirongolddev/burnwatch/internal/model"
)

// Alerter turns snapshots into notifications. A block alerts once per level
// it escalates into at or above MinLevel; a block that leaves the snapshot
// is forgotten, so a new block for the same session alerts afresh.
type Alerter struct {
	notifier Notifier
	minLevel model.Level
	log      zerolog.Logger
	metrics  *metrics.Collector

	mu       sync.Mutex
	notified map[string]model.Level
}

// NewAlerter returns an Alerter sending through n.
func NewAlerter(n Notifier, minLevel model.Level, log zerolog.Logger, m *metrics.Collector) *Alerter {
	return &Alerter{
		notifier: n,
		minLevel: minLevel,
		log:      logging.Component(log, "alerter"),
		metrics:  m,
		notified: make(map[string]model.Level),
	}
}

// Observe processes one snapshot. It is safe to call from a subscription callback.
func (a *Alerter) Observe(s model.RealtimeStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := make(map[string]struct{}, len(s.BurnRates))
	for i, br := range s.BurnRates {
		live[br.BlockID] = struct{}{}
		level := br.Status.Level
		if level < a.minLevel || level <= a.notified[br.BlockID] {
			continue
		}
		a.notified[br.BlockID] = level

		var block model.SessionBlock
		if i < len(s.ActiveBlocks) && s.ActiveBlocks[i].ID == br.BlockID {
			block = s.ActiveBlocks[i]
		}
		msg := br.Status.Warning
		if msg == "" {
			msg = fmt.Sprintf("Burn rate reached %s", level)
		}
		err := a.notifier.Send(alertTitle(level), msg, levelColor(level), alertFields(block, br))
		a.metrics.RecordAlert(level, err)
		if err != nil {
			a.log.Error().Err(err).Str("block", br.BlockID).Stringer("level", level).Msg("send alert")
			continue
		}
		a.log.Info().Str("block", br.BlockID).Stringer("level", level).Msg("alert sent")
	}

	for id := range a.notified {
		if _, ok := live[id]; !ok {
			delete(a.notified, id)
		}
	}
}

func alertTitle(level model.Level) string {
	return fmt.Sprintf("Burn rate %s", level)
}

func levelColor(level model.Level) Color {
	switch level {
	case model.LevelCritical:
		return ColorRed
	case model.LevelHigh:
		return ColorOrange
	case model.LevelModerate:
		return ColorYellow
	default:
		return ColorGreen
	}
}

func alertFields(b model.SessionBlock, br model.BlockBurnRate) []Field {
	fields := []Field{
		{Name: "Tokens/min", Value: fmt.Sprintf("%.0f", br.BurnRate.TokensPerMinute), Inline: true},
		{Name: "Cost/hour", Value: fmt.Sprintf("$%.2f", br.BurnRate.CostPerHour), Inline: true},
		{Name: "Projected block cost", Value: fmt.Sprintf("$%.2f", br.Status.ProjectedBlockCost), Inline: true},
	}
	if b.ID != "" {
		fields = append(fields,
			Field{Name: "Project", Value: b.Project, Inline: true},
			Field{Name: "Session", Value: b.SessionID, Inline: true},
			Field{Name: "Block ends", Value: b.EndTime.Local().Format("15:04 MST"), Inline: true},
		)
	}
	return fields
}

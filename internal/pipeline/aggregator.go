// Package pipeline loads usage entries from the log store and computes on-demand rollups and billing block summaries.
package pipeline

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/theirongolddev/burnwatch/internal/model"
)

// AggregateProjects computes per-project statistics from entries in [since, until).
// Results are sorted by cost descending.
func AggregateProjects(entries []model.UsageEntry, since, until time.Time) []model.ProjectTokenStats {
	filtered := FilterByTime(entries, since, until)
	groups := lo.GroupBy(filtered, func(e model.UsageEntry) string { return e.Project })

	projects := make([]model.ProjectTokenStats, 0, len(groups))
	for name, group := range groups {
		ps := model.ProjectTokenStats{
			Project:  name,
			Entries:  len(group),
			Sessions: len(lo.Uniq(lo.Map(group, func(e model.UsageEntry, _ int) string { return e.SessionID }))),
			Models:   modelsOf(group),
		}
		for _, e := range group {
			ps.Tokens.Add(e)
			ps.CostUSD += e.CostUSD
			if ps.FirstSeen.IsZero() || e.Timestamp.Before(ps.FirstSeen) {
				ps.FirstSeen = e.Timestamp
			}
			if e.Timestamp.After(ps.LastSeen) {
				ps.LastSeen = e.Timestamp
			}
		}
		ps.TotalTokens = ps.Tokens.Total()
		projects = append(projects, ps)
	}

	slices.SortFunc(projects, func(a, b model.ProjectTokenStats) int {
		return cmp.Or(cmp.Compare(b.CostUSD, a.CostUSD), strings.Compare(a.Project, b.Project))
	})
	return projects
}

// AggregateModels computes per-model statistics from entries in [since, until).
// Share is the model's fraction of total cost.
func AggregateModels(entries []model.UsageEntry, since, until time.Time) []model.ModelTokenStats {
	filtered := FilterByTime(entries, since, until)
	groups := lo.GroupBy(filtered, func(e model.UsageEntry) string { return e.Model })
	totalCost := lo.SumBy(filtered, func(e model.UsageEntry) float64 { return e.CostUSD })

	models := make([]model.ModelTokenStats, 0, len(groups))
	for name, group := range groups {
		ms := model.ModelTokenStats{Model: name, Entries: len(group)}
		for _, e := range group {
			ms.Tokens.Add(e)
			ms.CostUSD += e.CostUSD
		}
		ms.TotalTokens = ms.Tokens.Total()
		if totalCost > 0 {
			ms.SharePercent = ms.CostUSD / totalCost * 100
		}
		models = append(models, ms)
	}

	slices.SortFunc(models, func(a, b model.ModelTokenStats) int {
		return cmp.Or(cmp.Compare(b.CostUSD, a.CostUSD), strings.Compare(a.Model, b.Model))
	})
	return models
}

// FilterByTime returns entries whose timestamp falls within [since, until).
// A zero bound is open.
func FilterByTime(entries []model.UsageEntry, since, until time.Time) []model.UsageEntry {
	if since.IsZero() && until.IsZero() {
		return entries
	}
	return lo.Filter(entries, func(e model.UsageEntry, _ int) bool {
		if !since.IsZero() && e.Timestamp.Before(since) {
			return false
		}
		return until.IsZero() || e.Timestamp.Before(until)
	})
}

// FilterByProject returns entries matching the project substring.
func FilterByProject(entries []model.UsageEntry, project string) []model.UsageEntry {
	if project == "" {
		return entries
	}
	return lo.Filter(entries, func(e model.UsageEntry, _ int) bool {
		return containsIgnoreCase(e.Project, project)
	})
}

// FilterBySession returns entries for exactly one session.
func FilterBySession(entries []model.UsageEntry, sessionID string) []model.UsageEntry {
	if sessionID == "" {
		return entries
	}
	return lo.Filter(entries, func(e model.UsageEntry, _ int) bool {
		return e.SessionID == sessionID
	})
}

// FilterByModel returns entries whose model matches the substring.
func FilterByModel(entries []model.UsageEntry, modelFilter string) []model.UsageEntry {
	if modelFilter == "" {
		return entries
	}
	return lo.Filter(entries, func(e model.UsageEntry, _ int) bool {
		return containsIgnoreCase(e.Model, modelFilter)
	})
}

// FilterBlocksByModel returns summaries that used a model matching the substring.
func FilterBlocksByModel(sums []model.BillingBlockSummary, modelFilter string) []model.BillingBlockSummary {
	if modelFilter == "" {
		return sums
	}
	return lo.Filter(sums, func(b model.BillingBlockSummary, _ int) bool {
		return lo.ContainsBy(b.Models, func(m string) bool { return containsIgnoreCase(m, modelFilter) })
	})
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func modelsOf(entries []model.UsageEntry) []string {
	models := lo.Uniq(lo.Map(entries, func(e model.UsageEntry, _ int) string { return e.Model }))
	slices.Sort(models)
	return models
}

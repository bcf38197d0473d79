package config

import (
	"strings"
	"sync"
	"time"
)

// ModelPricing holds per-million-token prices for a model.
type ModelPricing struct {
	InputPerMTok        float64
	OutputPerMTok       float64
	CacheWrite5mPerMTok float64
	CacheWrite1hPerMTok float64
	CacheReadPerMTok    float64
}

// PricingVersion is a model's pricing from EffectiveFrom onward.
// A zero EffectiveFrom applies from the beginning of time.
type PricingVersion struct {
	EffectiveFrom time.Time
	Pricing       ModelPricing
}

// TokenUsage is the billable token breakdown of one API call.
type TokenUsage struct {
	Input        int64
	Output       int64
	CacheWrite5m int64
	CacheWrite1h int64
	CacheRead    int64
}

// DefaultPricing maps model base names to their list prices.
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-6":   {InputPerMTok: 5.00, OutputPerMTok: 25.00, CacheWrite5mPerMTok: 6.25, CacheWrite1hPerMTok: 10.00, CacheReadPerMTok: 0.50},
	"claude-opus-4-5":   {InputPerMTok: 5.00, OutputPerMTok: 25.00, CacheWrite5mPerMTok: 6.25, CacheWrite1hPerMTok: 10.00, CacheReadPerMTok: 0.50},
	"claude-opus-4-1":   {InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheWrite5mPerMTok: 18.75, CacheWrite1hPerMTok: 30.00, CacheReadPerMTok: 1.50},
	"claude-opus-4":     {InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheWrite5mPerMTok: 18.75, CacheWrite1hPerMTok: 30.00, CacheReadPerMTok: 1.50},
	"claude-sonnet-4-6": {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWrite5mPerMTok: 3.75, CacheWrite1hPerMTok: 6.00, CacheReadPerMTok: 0.30},
	"claude-sonnet-4-5": {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWrite5mPerMTok: 3.75, CacheWrite1hPerMTok: 6.00, CacheReadPerMTok: 0.30},
	"claude-sonnet-4":   {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWrite5mPerMTok: 3.75, CacheWrite1hPerMTok: 6.00, CacheReadPerMTok: 0.30},
	"claude-haiku-4-5":  {InputPerMTok: 1.00, OutputPerMTok: 5.00, CacheWrite5mPerMTok: 1.25, CacheWrite1hPerMTok: 2.00, CacheReadPerMTok: 0.10},
	"claude-haiku-3-5":  {InputPerMTok: 0.80, OutputPerMTok: 4.00, CacheWrite5mPerMTok: 1.00, CacheWrite1hPerMTok: 1.60, CacheReadPerMTok: 0.08},
}

// PricingTable holds effective-dated prices per model. It is safe for concurrent use.
type PricingTable struct {
	mu       sync.RWMutex
	versions map[string][]PricingVersion
}

// NewPricingTable seeds a table with one undated version per model.
func NewPricingTable(base map[string]ModelPricing) *PricingTable {
	t := &PricingTable{versions: make(map[string][]PricingVersion, len(base))}
	for name, p := range base {
		t.versions[name] = []PricingVersion{{Pricing: p}}
	}
	return t
}

// SetHistory replaces a model's versions. They must be sorted by EffectiveFrom.
func (t *PricingTable) SetHistory(model string, versions ...PricingVersion) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions[model] = versions
}

// Canonical strips a trailing date suffix when the base name is priced,
// e.g. "claude-opus-4-5-20251101" becomes "claude-opus-4-5".
func (t *PricingTable) Canonical(raw string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.canonical(raw)
}

func (t *PricingTable) canonical(raw string) string {
	if _, ok := t.versions[raw]; ok {
		return raw
	}
	i := strings.LastIndexByte(raw, '-')
	if i <= 0 {
		return raw
	}
	if suffix := raw[i+1:]; len(suffix) >= 8 && isAllDigits(suffix) {
		if _, ok := t.versions[raw[:i]]; ok {
			return raw[:i]
		}
	}
	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// Lookup returns the pricing in effect for model at the given time.
// A zero time selects the latest version.
func (t *PricingTable) Lookup(model string, at time.Time) (ModelPricing, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	versions := t.versions[t.canonical(model)]
	if len(versions) == 0 {
		return ModelPricing{}, false
	}
	if at.IsZero() {
		return versions[len(versions)-1].Pricing, true
	}

	selected := versions[0].Pricing
	for _, v := range versions[1:] {
		if at.Before(v.EffectiveFrom) {
			break
		}
		selected = v.Pricing
	}
	return selected, true
}

// Apply layers user overrides on every version of each named model. An
// override for an unknown model starts from zero pricing.
func (t *PricingTable) Apply(o PricingOverrides) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, ov := range o.Overrides {
		versions := t.versions[name]
		if len(versions) == 0 {
			versions = []PricingVersion{{}}
		}
		updated := make([]PricingVersion, len(versions))
		for i, v := range versions {
			v.Pricing = ov.apply(v.Pricing)
			updated[i] = v
		}
		t.versions[name] = updated
	}
}

func (ov ModelPricingOverride) apply(p ModelPricing) ModelPricing {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.InputPerMTok, ov.InputPerMTok)
	set(&p.OutputPerMTok, ov.OutputPerMTok)
	set(&p.CacheWrite5mPerMTok, ov.CacheWrite5mPerMTok)
	set(&p.CacheWrite1hPerMTok, ov.CacheWrite1hPerMTok)
	set(&p.CacheReadPerMTok, ov.CacheReadPerMTok)
	return p
}

// Cost estimates the USD cost of one call. Unknown models cost zero.
// Long-context rates are not applied; per-call context size is unknown.
func (t *PricingTable) Cost(model string, at time.Time, u TokenUsage) float64 {
	p, ok := t.Lookup(model, at)
	if !ok {
		return 0
	}
	return (float64(u.Input)*p.InputPerMTok +
		float64(u.Output)*p.OutputPerMTok +
		float64(u.CacheWrite5m)*p.CacheWrite5mPerMTok +
		float64(u.CacheWrite1h)*p.CacheWrite1hPerMTok +
		float64(u.CacheRead)*p.CacheReadPerMTok) / 1_000_000
}

// Prices is the process-wide table used when records carry no cost.
var Prices = NewPricingTable(DefaultPricing)

// ApplyOverrides installs user pricing into Prices.
func ApplyOverrides(o PricingOverrides) {
	Prices.Apply(o)
}

// CalculateCostAt prices one call against Prices.
func CalculateCostAt(model string, at time.Time, u TokenUsage) float64 {
	return Prices.Cost(model, at, u)
}

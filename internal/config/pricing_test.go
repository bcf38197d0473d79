package config

import (
	"math"
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func TestLookupUsesEffectiveDate(t *testing.T) {
	tbl := NewPricingTable(nil)
	tbl.SetHistory("claude-test",
		PricingVersion{Pricing: ModelPricing{InputPerMTok: 1}},
		PricingVersion{EffectiveFrom: mustDate(t, "2025-06-01"), Pricing: ModelPricing{InputPerMTok: 2}},
	)

	tests := []struct {
		at   time.Time
		want float64
	}{
		{mustDate(t, "2025-04-15"), 1},
		{mustDate(t, "2025-06-01"), 2},
		{mustDate(t, "2025-08-15"), 2},
		{time.Time{}, 2},
	}
	for _, tt := range tests {
		p, ok := tbl.Lookup("claude-test", tt.at)
		if !ok {
			t.Fatalf("Lookup(%v) !ok", tt.at)
		}
		if p.InputPerMTok != tt.want {
			t.Errorf("Lookup(%v).InputPerMTok = %v, want %v", tt.at, p.InputPerMTok, tt.want)
		}
	}
}

func TestCanonicalStripsDateSuffix(t *testing.T) {
	tbl := NewPricingTable(DefaultPricing)
	tests := []struct{ raw, want string }{
		{"claude-opus-4-5-20251101", "claude-opus-4-5"},
		{"claude-sonnet-4-6", "claude-sonnet-4-6"},
		{"claude-unknown-20251101", "claude-unknown-20251101"},
		{"claude-opus-4-5-v2", "claude-opus-4-5-v2"},
	}
	for _, tt := range tests {
		if got := tbl.Canonical(tt.raw); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	tbl := NewPricingTable(map[string]ModelPricing{
		"claude-test": {InputPerMTok: 3, OutputPerMTok: 15},
	})
	in := 9.0
	tbl.Apply(PricingOverrides{Overrides: map[string]ModelPricingOverride{
		"claude-test":  {InputPerMTok: &in},
		"claude-local": {InputPerMTok: &in},
	}})

	p, _ := tbl.Lookup("claude-test", time.Time{})
	if p.InputPerMTok != 9 || p.OutputPerMTok != 15 {
		t.Errorf("overridden pricing = %+v, want input 9 output 15", p)
	}
	p, ok := tbl.Lookup("claude-local", time.Time{})
	if !ok || p.InputPerMTok != 9 || p.OutputPerMTok != 0 {
		t.Errorf("new model pricing = %+v ok=%v, want input 9 only", p, ok)
	}
}

func TestCost(t *testing.T) {
	tbl := NewPricingTable(DefaultPricing)
	u := TokenUsage{Input: 1_000_000, Output: 1_000_000, CacheWrite5m: 1_000_000, CacheWrite1h: 1_000_000, CacheRead: 1_000_000}
	got := tbl.Cost("claude-sonnet-4-6-20250514", time.Time{}, u)
	want := 3.00 + 15.00 + 3.75 + 6.00 + 0.30
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Cost = %.6f, want %.6f", got, want)
	}
	if got := tbl.Cost("unknown-model", time.Time{}, TokenUsage{Input: 1000}); got != 0 {
		t.Errorf("Cost(unknown) = %f, want 0", got)
	}
}

package burnrate

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/burnwatch/internal/model"
)

var start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func block(tokens int64, cost float64) model.SessionBlock {
	return model.SessionBlock{
		ID:        "b1",
		StartTime: start,
		EndTime:   start.Add(5 * time.Hour),
		Tokens:    model.TokenCounts{Input: tokens},
		CostUSD:   cost,
	}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name     string
		block    model.SessionBlock
		at       time.Duration
		wantTPM  float64
		wantCost float64
	}{
		{"empty block at creation", block(0, 0), 0, 0, 0},
		{"sub-minute elapsed floors to one minute", block(600, 0.6), 10 * time.Second, 600, 36},
		{"ten minutes", block(6000, 1.0), 10 * time.Minute, 600, 6},
		{"all categories counted", model.SessionBlock{
			StartTime: start, EndTime: start.Add(5 * time.Hour),
			Tokens: model.TokenCounts{Input: 1, Output: 2, CacheCreation: 3, CacheRead: 4},
		}, 2 * time.Minute, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculator{Strict: true}.Calculate(tt.block, start.Add(tt.at))
			if math.Abs(got.TokensPerMinute-tt.wantTPM) > 1e-9 {
				t.Errorf("TokensPerMinute = %v, want %v", got.TokensPerMinute, tt.wantTPM)
			}
			if got.TokensPerMinuteForIndicator != got.TokensPerMinute {
				t.Errorf("indicator = %v, want %v", got.TokensPerMinuteForIndicator, got.TokensPerMinute)
			}
			if math.Abs(got.CostPerHour-tt.wantCost) > 1e-9 {
				t.Errorf("CostPerHour = %v, want %v", got.CostPerHour, tt.wantCost)
			}
		})
	}
}

func TestCalculate_IndicatorNotClamped(t *testing.T) {
	got := Calculator{}.Calculate(block(10_000_000, 0), start.Add(time.Minute))
	if got.TokensPerMinuteForIndicator != 10_000_000 {
		t.Errorf("indicator = %v, want 10000000", got.TokensPerMinuteForIndicator)
	}
}

func TestCalculate_NegativeElapsed(t *testing.T) {
	var reported string
	c := Calculator{OnInvariant: func(msg string) { reported = msg }}
	got := c.Calculate(block(1000, 1), start.Add(-time.Minute))
	if got != (model.BurnRate{}) {
		t.Errorf("production rate = %+v, want zero", got)
	}
	if reported == "" {
		t.Error("invariant violation not reported")
	}

	defer func() {
		if recover() == nil {
			t.Error("strict Calculate did not panic on negative elapsed time")
		}
	}()
	Calculator{Strict: true}.Calculate(block(1000, 1), start.Add(-time.Minute))
}

func TestClassify_HighScenario(t *testing.T) {
	c := NewClassifier(Thresholds{Moderate: 20_000, High: 40_000, Critical: 60_000})
	st := c.Classify(model.BurnRate{TokensPerMinute: 50_000}, time.Hour)
	if st.Level != model.LevelHigh {
		t.Errorf("Level = %v, want HIGH", st.Level)
	}
	if st.Warning == "" {
		t.Error("HIGH status has no warning")
	}
}

func TestClassify_Levels(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	tests := []struct {
		tpm         float64
		want        model.Level
		wantWarning bool
	}{
		{0, model.LevelLow, false},
		{19_999, model.LevelLow, false},
		{20_000, model.LevelModerate, false},
		{40_000, model.LevelHigh, true},
		{59_999, model.LevelHigh, true},
		{60_000, model.LevelCritical, true},
		{1e9, model.LevelCritical, true},
	}
	for _, tt := range tests {
		st := c.Classify(model.BurnRate{TokensPerMinute: tt.tpm}, 0)
		if st.Level != tt.want {
			t.Errorf("Classify(%v).Level = %v, want %v", tt.tpm, st.Level, tt.want)
		}
		if st.HasWarning() != tt.wantWarning {
			t.Errorf("Classify(%v).Warning = %q, want present=%v", tt.tpm, st.Warning, tt.wantWarning)
		}
	}
	if st := c.Classify(model.BurnRate{TokensPerMinute: 70_000}, 0); !strings.Contains(st.Warning, "Critical") {
		t.Errorf("critical warning = %q", st.Warning)
	}
}

func TestClassify_Monotonic(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	r := rand.New(rand.NewPCG(1, 2))
	for range 10_000 {
		a := r.Float64() * 100_000
		b := a + r.Float64()*100_000
		la := c.Classify(model.BurnRate{TokensPerMinute: a}, 0).Level
		lb := c.Classify(model.BurnRate{TokensPerMinute: b}, 0).Level
		if la > lb {
			t.Fatalf("Classify(%v) = %v > Classify(%v) = %v", a, la, b, lb)
		}
	}
}

func TestClassify_ProjectedCost(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	b := block(0, 0)
	rate := model.BurnRate{CostPerHour: 2}

	if got := c.Status(b, rate, start.Add(3*time.Hour)).ProjectedBlockCost; got != 4 {
		t.Errorf("ProjectedBlockCost with 2h left = %v, want 4", got)
	}
	if got := c.Status(b, rate, start.Add(6*time.Hour)).ProjectedBlockCost; got != 0 {
		t.Errorf("ProjectedBlockCost after expiry = %v, want 0", got)
	}
}

func TestThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	if err := (Thresholds{Moderate: 10, High: 10, Critical: 20}).Validate(); err == nil {
		t.Error("equal boundaries accepted")
	}
}

package tuner

import (
	"testing"
	"time"
)

func TestTrendLookbackCandles_Breakpoints(t *testing.T) {
	cases := []struct {
		ph   float64
		want int
	}{
		{0.005, 24},
		{0.05, 288},
		{0.15, 2016},
		{0.50, 8640},
	}
	for _, c := range cases {
		got := TrendLookbackCandles(c.ph)
		if got != c.want {
			t.Errorf("TrendLookbackCandles(%v) = %d, want %d", c.ph, got, c.want)
		}
	}
}

func TestTrendLookbackCandles_Monotone(t *testing.T) {
	prev := TrendLookbackCandles(0.005)
	for _, ph := range []float64{0.02, 0.05, 0.1, 0.15, 0.3, 0.5} {
		cur := TrendLookbackCandles(ph)
		if cur < prev {
			t.Fatalf("lookback decreased at ph=%v: %d < %d", ph, cur, prev)
		}
		prev = cur
	}
}

func TestJourneyDuration_ClampedToBounds(t *testing.T) {
	min := time.Hour
	max := 24 * time.Hour

	// Tiny ph_pct / high volatility collapses toward zero candles -> clamp to min.
	d := JourneyDuration(0.001, 10, 300000, min, max)
	if d != min {
		t.Errorf("expected clamp to min, got %v", d)
	}

	// Huge ph_pct / tiny volatility blows up -> clamp to max.
	d = JourneyDuration(0.9, 0.0001, 300000, min, max)
	if d != max {
		t.Errorf("expected clamp to max, got %v", d)
	}
}

func TestJourneyDuration_WithinBoundsUsesFormula(t *testing.T) {
	intervalMs := int64(300000)
	ph, vol := 0.05, 0.02
	ratio := ph / vol
	candles := (ratio + 3.0) * (ratio + 3.0)
	want := time.Duration(candles*float64(intervalMs)) * time.Millisecond

	got := JourneyDuration(ph, vol, intervalMs, time.Second, 365*24*time.Hour)
	if got != want {
		t.Errorf("JourneyDuration = %v, want %v", got, want)
	}
}

func TestEffectiveDecay_ZeroSpanDisablesDecay(t *testing.T) {
	if got := EffectiveDecay(0.5, 0); got != 1 {
		t.Errorf("zero span should disable decay, got %v", got)
	}
	if got := EffectiveDecay(0.5, -3); got != 1 {
		t.Errorf("negative span should disable decay, got %v", got)
	}
}

func TestEffectiveDecay_ClampsToOne(t *testing.T) {
	// configuredDecay > 1 raised to a positive power can exceed 1 already,
	// but a fractional decay base raised to a small span stays >= 1 via clamp.
	got := EffectiveDecay(0.9, 0.1)
	if got < 1 {
		t.Errorf("effective decay must never drop below 1, got %v", got)
	}
}

func TestSuggestDecayFactor_MonotoneDecreasing(t *testing.T) {
	prev := SuggestDecayFactor(0.0)
	for _, ph := range []float64{0.02, 0.05, 0.1, 0.15, 0.3, 0.6} {
		cur := SuggestDecayFactor(ph)
		if cur > prev {
			t.Fatalf("decay suggestion increased at ph=%v: %v > %v", ph, cur, prev)
		}
		prev = cur
	}
}

func TestCandidatePhValues_SpansRangeInclusive(t *testing.T) {
	env := Envelope{PhMin: 0.01, PhMax: 0.04}
	vals := CandidatePhValues(env, 4)
	if len(vals) != 4 {
		t.Fatalf("expected 4 candidates, got %d", len(vals))
	}
	if vals[0] != env.PhMin {
		t.Errorf("first candidate = %v, want %v", vals[0], env.PhMin)
	}
	if vals[len(vals)-1] != env.PhMax {
		t.Errorf("last candidate = %v, want %v", vals[len(vals)-1], env.PhMax)
	}
}

func TestSelectBest_PrefersInsideWindowThenObjective(t *testing.T) {
	env := Envelope{TargetMinHours: 6, TargetMaxHours: 24}
	results := []CandidateResult{
		{PhPct: 0.03, BestDurationHours: 2, BestObjectiveScore: 99},  // outside window, far
		{PhPct: 0.05, BestDurationHours: 12, BestObjectiveScore: 1},  // inside window
		{PhPct: 0.06, BestDurationHours: 18, BestObjectiveScore: 5},  // inside window, better objective
	}
	best, ok := SelectBest(env, results)
	if !ok {
		t.Fatal("expected a selection")
	}
	if best.PhPct != 0.06 {
		t.Errorf("SelectBest chose ph=%v, want 0.06", best.PhPct)
	}
}

func TestSelectBest_EmptyResults(t *testing.T) {
	if _, ok := SelectBest(Envelope{}, nil); ok {
		t.Fatal("expected no selection for empty results")
	}
}

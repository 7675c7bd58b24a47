package pathfinder

import (
	"math"
	"testing"

	"pulsezone/internal/candle"
	"pulsezone/internal/config"
	"pulsezone/internal/ledger"
)

func seriesOf(prices []float64) *candle.Series {
	s := &candle.Series{}
	for i, p := range prices {
		_ = s.UpdateFromLive(candle.LiveCandle{
			OpenTimeMs: int64(i * 1000), Open: p, High: p + 1, Low: p - 1, Close: p, BaseVolume: 10,
		})
	}
	return s
}

func TestReplayPath_LongTargetHit(t *testing.T) {
	// Entry ref 100, target distance +5%, stop distance -5%.
	// Path starts at idx 0 (close 100); idx1 high=102 (+2%), idx2 high=106(+6%) hits target.
	s := seriesOf([]float64{100, 101, 105})
	out := replayPath(s, 0, 100, 105, 95, 5, ledger.Long)
	if out.kind != outcomeTargetHit {
		t.Fatalf("expected target hit, got %v", out.kind)
	}
}

func TestReplayPath_BothTouchedIsPessimisticStop(t *testing.T) {
	s := &candle.Series{}
	// idx0 entry; idx1 candle spans both +6% high and -6% low in the same candle.
	_ = s.UpdateFromLive(candle.LiveCandle{OpenTimeMs: 0, Open: 100, High: 101, Low: 99, Close: 100, BaseVolume: 1})
	_ = s.UpdateFromLive(candle.LiveCandle{OpenTimeMs: 1000, Open: 100, High: 106, Low: 94, Close: 100, BaseVolume: 1})

	out := replayPath(s, 0, 100, 105, 95, 3, ledger.Long)
	if out.kind != outcomeStopHit {
		t.Fatalf("expected pessimistic stop hit, got %v", out.kind)
	}
}

func TestReplayPath_TimesOut(t *testing.T) {
	s := seriesOf([]float64{100, 100.5, 100.2})
	out := replayPath(s, 0, 100, 200, 50, 2, ledger.Long)
	if out.kind != outcomeTimedOut {
		t.Fatalf("expected timeout, got %v", out.kind)
	}
}

func TestObjectiveScore_MaxROIIsAvgPnl(t *testing.T) {
	sim := SimulationResult{AvgPnlPct: 0.1}
	if got := ObjectiveScore(config.MaxROI, sim, 1000); got != 0.1 {
		t.Errorf("MaxROI score = %v, want 0.1", got)
	}
}

func TestObjectiveScore_BalancedNegativeIsPassthrough(t *testing.T) {
	sim := SimulationResult{AvgPnlPct: -0.05}
	got := ObjectiveScore(config.Balanced, sim, 1000)
	if got != -0.05 {
		t.Errorf("Balanced with negative pnl should pass through, got %v", got)
	}
}

func TestObjectiveScore_LogGrowthSmallSampleIsMean(t *testing.T) {
	sim := SimulationResult{AvgPnlPct: 0.2, SampleSize: 1, ReturnVariance: 0.5}
	got := ObjectiveScore(config.LogGrowth, sim, 1000)
	if got != 0.2 {
		t.Errorf("n<2 should return mean unmodified, got %v", got)
	}
}

func TestObjectiveScore_LogGrowthPenalizesVariance(t *testing.T) {
	sim := SimulationResult{AvgPnlPct: 0.2, SampleSize: 4, ReturnVariance: 0.1}
	want := 0.2*(1-1/math.Sqrt(4)) - 0.5*0.1
	got := ObjectiveScore(config.LogGrowth, sim, 1000)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("LogGrowth score = %v, want %v", got, want)
	}
}

func TestDiversityFilter_OnePerRegion(t *testing.T) {
	candidates := []scoredOpp{
		{opp: ledger.TradeOpportunity{TargetPrice: 101}, score: 1},
		{opp: ledger.TradeOpportunity{TargetPrice: 102}, score: 5}, // same region, higher score wins
		{opp: ledger.TradeOpportunity{TargetPrice: 190}, score: 2}, // different region
	}
	out := diversityFilter(candidates, 100, 200, 5, 0, 10)
	if len(out) != 2 {
		t.Fatalf("expected 2 region winners, got %d", len(out))
	}
	for _, o := range out {
		if o.TargetPrice == 101 {
			t.Errorf("lower-scored same-region candidate should have been dropped")
		}
	}
}

func TestDiversityFilter_TruncatesToMaxResults(t *testing.T) {
	var candidates []scoredOpp
	for i := 0; i < 10; i++ {
		candidates = append(candidates, scoredOpp{
			opp:   ledger.TradeOpportunity{TargetPrice: 100 + float64(i)*10},
			score: float64(i),
		})
	}
	out := diversityFilter(candidates, 100, 200, 10, 0, 3)
	if len(out) != 3 {
		t.Fatalf("expected truncation to 3, got %d", len(out))
	}
}

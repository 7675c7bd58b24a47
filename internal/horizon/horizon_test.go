package horizon

import (
	"testing"

	"pulsezone/internal/candle"
)

func seriesOf(prices []float64) *candle.Series {
	s := &candle.Series{}
	for i, p := range prices {
		_ = s.UpdateFromLive(candle.LiveCandle{
			OpenTimeMs: int64(i * 1000),
			Open:       p, High: p + 1, Low: p - 1, Close: p,
			BaseVolume: 1,
		})
	}
	return s
}

func TestSelect_ContiguousRanges(t *testing.T) {
	// prices: 100 (in band), 200 (out), 101 (in), 99 (in)
	s := seriesOf([]float64{100, 200, 101, 99})
	ranges, min, max := Select(s, 100, 0.05)

	if min >= max {
		t.Fatalf("invalid band [%v,%v]", min, max)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 contiguous ranges, got %d: %+v", len(ranges), ranges)
	}
	if ranges[0] != (Range{0, 1}) {
		t.Errorf("first range = %+v, want {0,1}", ranges[0])
	}
	if ranges[1] != (Range{2, 4}) {
		t.Errorf("second range = %+v, want {2,4}", ranges[1])
	}
}

func TestSelect_NoIntersection_ReturnsLast(t *testing.T) {
	s := seriesOf([]float64{500, 600, 700})
	ranges, _, _ := Select(s, 100, 0.01)
	if len(ranges) != 1 || ranges[0] != (Range{2, 3}) {
		t.Fatalf("expected single last-candle range, got %+v", ranges)
	}
}

package candle

import "testing"

func TestUpdateFromLive_OverwriteVsAppend(t *testing.T) {
	s := &Series{}

	if err := s.UpdateFromLive(LiveCandle{OpenTimeMs: 1000, Open: 100, High: 110, Low: 95, Close: 108, BaseVolume: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Klines() != 1 {
		t.Fatalf("expected 1 candle, got %d", s.Klines())
	}

	// Forming update for the same open_time: overwrite, not append.
	if err := s.UpdateFromLive(LiveCandle{OpenTimeMs: 1000, Open: 999, High: 115, Low: 95, Close: 112, BaseVolume: 12, IsClosed: false}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Klines() != 1 {
		t.Fatalf("expected series length to stay at 1, got %d", s.Klines())
	}
	got, _ := s.GetCandle(0)
	if got.Open != 100 {
		t.Errorf("open price must stay immutable after append, got %v", got.Open)
	}
	if got.High != 115 || got.Low != 95 || got.Close != 112 {
		t.Errorf("forming update did not overwrite high/low/close: %+v", got)
	}

	// A later open_time appends.
	if err := s.UpdateFromLive(LiveCandle{OpenTimeMs: 2000, Open: 112, High: 120, Low: 111, Close: 118, BaseVolume: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Klines() != 2 {
		t.Fatalf("expected 2 candles after append, got %d", s.Klines())
	}
}

func TestUpdateFromLive_OutOfOrderRejected(t *testing.T) {
	s := &Series{}
	_ = s.UpdateFromLive(LiveCandle{OpenTimeMs: 2000, Open: 1, High: 1, Low: 1, Close: 1})

	err := s.UpdateFromLive(LiveCandle{OpenTimeMs: 1000, Open: 1, High: 1, Low: 1, Close: 1})
	if err == nil {
		t.Fatal("expected ErrOutOfOrder for a strictly-earlier open_time")
	}
	var oo *ErrOutOfOrder
	if !asErrOutOfOrder(err, &oo) {
		t.Fatalf("expected *ErrOutOfOrder, got %T: %v", err, err)
	}
}

func asErrOutOfOrder(err error, target **ErrOutOfOrder) bool {
	if e, ok := err.(*ErrOutOfOrder); ok {
		*target = e
		return true
	}
	return false
}

func TestRelativeVolume_MatchesDefinition(t *testing.T) {
	s := &Series{}
	for i := 0; i < 25; i++ {
		vol := float64(i + 1)
		_ = s.UpdateFromLive(LiveCandle{OpenTimeMs: int64(i * 1000), Open: 1, High: 1, Low: 1, Close: 1, BaseVolume: vol})
	}

	for i := 0; i < s.Klines(); i++ {
		start := i - 19
		if start < 0 {
			start = 0
		}
		var sum float64
		for j := start; j <= i; j++ {
			sum += s.BaseVolumes[j]
		}
		want := s.BaseVolumes[i] / (sum / float64(i-start+1))
		if got := s.RelativeVolumes[i]; diff(got, want) > 1e-9 {
			t.Errorf("index %d: relative volume = %v, want %v", i, got, want)
		}
	}
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestBodyAndWickDecomposition(t *testing.T) {
	bull := Candle{Open: 100, High: 110, Low: 95, Close: 108}
	lo, hi := bull.BodyRange()
	if lo != 100 || hi != 108 {
		t.Errorf("bullish body range = (%v,%v), want (100,108)", lo, hi)
	}
	lwLo, lwHi := bull.LowWick()
	if lwLo != 95 || lwHi != 100 {
		t.Errorf("bullish low wick = (%v,%v), want (95,100)", lwLo, lwHi)
	}
	hwLo, hwHi := bull.HighWick()
	if hwLo != 108 || hwHi != 110 {
		t.Errorf("bullish high wick = (%v,%v), want (108,110)", hwLo, hwHi)
	}

	bear := Candle{Open: 108, High: 110, Low: 95, Close: 100}
	lo, hi = bear.BodyRange()
	if lo != 100 || hi != 108 {
		t.Errorf("bearish body range = (%v,%v), want (100,108)", lo, hi)
	}
}

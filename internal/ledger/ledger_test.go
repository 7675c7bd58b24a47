package ledger

import (
	"testing"
	"time"

	"pulsezone/internal/config"
	"pulsezone/internal/tuner"
)

func baseOpp(target float64) TradeOpportunity {
	return TradeOpportunity{
		Pair:          "BTCUSDT",
		Direction:     Long,
		Strategy:      config.MaxROI,
		StationID:     tuner.Day,
		StartPrice:    100,
		TargetPrice:   target,
		StopPrice:     95,
		MaxDurationMs: float64((24 * time.Hour).Milliseconds()),
		AvgPnlPct:     0.05,
	}
}

func TestEvolve_InsertsNewWhenNoMatch(t *testing.T) {
	l := New(0.005)
	isNew, id := l.Evolve(baseOpp(110))
	if !isNew || id == "" {
		t.Fatalf("expected new insert, got isNew=%v id=%q", isNew, id)
	}
	if l.Size() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Size())
	}
}

func TestEvolve_MergesFuzzyMatch(t *testing.T) {
	l := New(0.005) // 0.5% tolerance
	_, firstID := l.Evolve(baseOpp(110))

	// 110.3 is within 0.5% of 110 -> should merge into the same entry.
	isNew, id := l.Evolve(baseOpp(110.3))
	if isNew {
		t.Fatal("expected merge, got new insert")
	}
	if id != firstID {
		t.Fatalf("expected merged id %q, got %q", firstID, id)
	}
	if l.Size() != 1 {
		t.Fatalf("expected 1 entry after merge, got %d", l.Size())
	}
}

func TestEvolve_InsertsSeparateWhenOutsideTolerance(t *testing.T) {
	l := New(0.005)
	l.Evolve(baseOpp(110))
	isNew, _ := l.Evolve(baseOpp(130))
	if !isNew {
		t.Fatal("expected a distinct entry well outside tolerance")
	}
	if l.Size() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Size())
	}
}

func TestEvolve_UpdatesInPlaceByID(t *testing.T) {
	l := New(0.005)
	_, id := l.Evolve(baseOpp(110))
	updated := baseOpp(110)
	updated.ID = id
	updated.AvgPnlPct = 0.09
	isNew, gotID := l.Evolve(updated)
	if isNew || gotID != id {
		t.Fatalf("expected in-place update of %q, got isNew=%v id=%q", id, isNew, gotID)
	}
	all := l.GetAll()
	if all[0].AvgPnlPct != 0.09 {
		t.Errorf("in-place update did not apply new fields")
	}
}

func TestPruneCollisions_KeepsHigherQuality(t *testing.T) {
	l := New(0.01)
	weak := baseOpp(110)
	weak.AvgPnlPct = 0.01
	strong := baseOpp(110.5) // within 1% tolerance of 110
	strong.AvgPnlPct = 0.08

	l.entries["weak"] = weak
	l.entries["strong"] = strong

	removed := l.PruneCollisions()
	if len(removed) != 1 {
		t.Fatalf("expected exactly one removal, got %v", removed)
	}
	if _, ok := l.entries["strong"]; !ok {
		t.Errorf("expected the higher quality score entry to survive")
	}
}

func TestDetectExit_LongStopCheckedBeforeTarget(t *testing.T) {
	o := baseOpp(110)
	o.StopPrice = 95
	o.CreatedAt = time.Now()
	o.MaxDurationMs = float64((24 * time.Hour).Milliseconds())

	reason, exited := DetectExit(o, 111, 94, time.Now())
	if !exited || reason != ExitStopHit {
		t.Fatalf("expected stop-hit precedence, got %v %v", reason, exited)
	}
}

func TestDetectExit_Timeout(t *testing.T) {
	o := baseOpp(110)
	o.CreatedAt = time.Now().Add(-48 * time.Hour)
	o.MaxDurationMs = float64((24 * time.Hour).Milliseconds())

	reason, exited := DetectExit(o, 100, 99, time.Now())
	if !exited || reason != ExitTimeout {
		t.Fatalf("expected timeout, got %v %v", reason, exited)
	}
}

func TestDetectExit_ShortDirection(t *testing.T) {
	o := baseOpp(90)
	o.Direction = Short
	o.StopPrice = 105
	o.CreatedAt = time.Now()
	o.MaxDurationMs = float64((24 * time.Hour).Milliseconds())

	reason, exited := DetectExit(o, 95, 89, time.Now())
	if !exited || reason != ExitTargetHit {
		t.Fatalf("expected target hit for short, got %v %v", reason, exited)
	}
}

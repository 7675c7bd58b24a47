package zones

import "testing"

func TestFindTargetZones_GapRule(t *testing.T) {
	// indices [2,4] with max_gap 1: 4-2=2 <= maxGap+1(2) -> same cluster.
	scores := make([]float64, 10)
	scores[2] = 1
	scores[4] = 1
	clusters := findTargetZones(scores, 0.5, 1)
	if len(clusters) != 1 || clusters[0] != (cluster{2, 4}) {
		t.Fatalf("expected single cluster {2,4}, got %+v", clusters)
	}

	// indices [2,5] with max_gap 1: 5-2=3 > 2 -> breaks into two clusters.
	scores2 := make([]float64, 10)
	scores2[2] = 1
	scores2[5] = 1
	clusters2 := findTargetZones(scores2, 0.5, 1)
	if len(clusters2) != 2 {
		t.Fatalf("expected two clusters, got %+v", clusters2)
	}
}

func TestSmooth_ForcesOddWindow(t *testing.T) {
	scores := make([]float64, 100)
	for i := range scores {
		scores[i] = 1
	}
	// 2% of 100 = 2 -> ceil -> 2 -> bitwise-or 1 -> 3 (odd).
	out := smooth(scores, 0.02)
	if len(out) != len(scores) {
		t.Fatalf("smooth changed length: got %d want %d", len(out), len(scores))
	}
	for i, v := range out {
		if v != 1 {
			t.Fatalf("flat input should stay flat after smoothing, index %d = %v", i, v)
		}
	}
}

func TestAdaptiveThreshold_Clamped(t *testing.T) {
	flat := make([]float64, 50)
	th := adaptiveThreshold(flat, 10)
	if th < 0.05 || th > 0.95 {
		t.Fatalf("threshold %v out of clamp range", th)
	}
}

func TestGate_ZeroesBelowViability(t *testing.T) {
	scores := []float64{0.5, 99, 0.5}
	gate(scores, 100, 0.01) // viability floor is 1% of total = 1.0
	if scores[0] != 0 {
		t.Errorf("bin below the viability floor should be gated, got %v", scores[0])
	}
	if scores[1] == 0 {
		t.Errorf("99%% share bin should survive gating")
	}
}

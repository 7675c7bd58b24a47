// Package zones turns a CVA histogram into discrete classified price zones:
// runs of sticky (support/resistance), low-wick, and high-wick activity.
//
// The island-clustering gap rule is grounded on
// original_source/src/analysis/zone_scoring.rs's find_target_zones, kept
// verbatim (a cluster only breaks when the distance between consecutive
// eligible indices exceeds max_gap+1).
package zones

import (
	"math"

	"pulsezone/internal/cva"
)

// SuperZone is a maximal contiguous run of zones of one classification.
type SuperZone struct {
	StartIndex int
	EndIndex   int // inclusive
	Bottom     float64
	Top        float64
}

// Params configures one classification pass (sticky or reversal/wick).
type Params struct {
	ViabilityPct   float64
	SmoothPct      float64
	ThresholdSigma float64
	GapPct         float64
}

// DefaultStickyParams are the viability/smoothing/threshold/gap defaults
// applied to the volume-weighted score array.
var DefaultStickyParams = Params{ViabilityPct: 0.001, SmoothPct: 0.02, ThresholdSigma: 0.2, GapPct: 0.01}

// DefaultReversalParams are the defaults applied to the wick-count arrays.
var DefaultReversalParams = Params{ViabilityPct: 0.0005, SmoothPct: 0.005, ThresholdSigma: 1.5, GapPct: 0}

// Result is the classifier's output for one CVA histogram.
type Result struct {
	Sticky     []SuperZone
	Support    []SuperZone // sticky zones below or straddling the current price
	Resistance []SuperZone // sticky zones above or straddling the current price
	LowWick    []SuperZone
	HighWick   []SuperZone

	StickyPct     float64
	SupportPct    float64
	ResistancePct float64
}

// Classify runs the viability gate, smoothing, normalisation, adaptive
// threshold, and island clustering over the histogram's three score
// arrays, producing sticky/support/resistance, low-wick, and high-wick
// SuperZone lists plus coverage statistics.
func Classify(h *cva.Histogram, currentPrice float64, stickyParams, reversalParams Params) *Result {
	volumeTotal := sum(h.CandleBodiesVW)
	wickTotal := float64(h.RelevantCandleCount)

	sticky := classifyOne(h, h.CandleBodiesVW, volumeTotal, stickyParams)
	lowWick := classifyOne(h, h.LowWickCounts, wickTotal, reversalParams)
	highWick := classifyOne(h, h.HighWickCounts, wickTotal, reversalParams)

	r := &Result{
		Sticky:   sticky,
		LowWick:  lowWick,
		HighWick: highWick,
	}

	cpZone := h.ZoneIndex(currentPrice)
	for _, z := range sticky {
		switch {
		case z.EndIndex < cpZone:
			r.Support = append(r.Support, z)
		case z.StartIndex > cpZone:
			r.Resistance = append(r.Resistance, z)
		default:
			// Straddles the current price: counts toward both faces of the
			// same sticky zone for reporting purposes.
			r.Support = append(r.Support, z)
			r.Resistance = append(r.Resistance, z)
		}
	}

	r.StickyPct = coveragePct(sticky, h.ZoneCount)
	r.SupportPct = coveragePct(r.Support, h.ZoneCount)
	r.ResistancePct = coveragePct(r.Resistance, h.ZoneCount)

	return r
}

func classifyOne(h *cva.Histogram, scores []float64, resourceTotal float64, p Params) []SuperZone {
	n := len(scores)
	if n == 0 {
		return nil
	}

	working := append([]float64(nil), scores...)

	gate(working, resourceTotal, p.ViabilityPct)
	working = smooth(working, p.SmoothPct)
	normalize(working)
	threshold := adaptiveThreshold(working, p.ThresholdSigma)
	maxGap := int(math.Ceil(float64(n) * p.GapPct))

	clusters := findTargetZones(working, threshold, maxGap)

	zones := make([]SuperZone, 0, len(clusters))
	for _, c := range clusters {
		zones = append(zones, SuperZone{
			StartIndex: c.start,
			EndIndex:   c.end,
			Bottom:     h.PriceMin + float64(c.start)*h.ZoneWidth,
			Top:        h.PriceMin + float64(c.end+1)*h.ZoneWidth,
		})
	}
	return zones
}

// gate zeroes any bin whose share of resourceTotal falls below viabilityPct.
func gate(scores []float64, resourceTotal, viabilityPct float64) {
	if resourceTotal <= 0 {
		return
	}
	for i, v := range scores {
		if v/resourceTotal < viabilityPct {
			scores[i] = 0
		}
	}
}

// smooth applies a centred moving average with an odd window size of
// max(1, ceil(N*smoothPct)) | 1.
func smooth(scores []float64, smoothPct float64) []float64 {
	n := len(scores)
	window := int(math.Ceil(float64(n) * smoothPct))
	if window < 1 {
		window = 1
	}
	window |= 1 // force odd

	if window <= 1 {
		return scores
	}

	out := make([]float64, n)
	half := window / 2
	for i := 0; i < n; i++ {
		lo := i - half
		hi := i + half
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += scores[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// normalize divides every element by the maximum value, leaving the slice
// untouched if the maximum is at or below epsilon.
func normalize(scores []float64) {
	const eps = 1e-12
	max := 0.0
	for _, v := range scores {
		if v > max {
			max = v
		}
	}
	if max <= eps {
		return
	}
	for i := range scores {
		scores[i] /= max
	}
}

// adaptiveThreshold computes mean + sigma*stddev, clamped to [0.05, 0.95].
func adaptiveThreshold(scores []float64, sigma float64) float64 {
	n := float64(len(scores))
	if n == 0 {
		return 0.05
	}
	var mean float64
	for _, v := range scores {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range scores {
		d := v - mean
		variance += d * d
	}
	variance /= n
	stddev := math.Sqrt(variance)

	t := mean + sigma*stddev
	if t < 0.05 {
		t = 0.05
	}
	if t > 0.95 {
		t = 0.95
	}
	return t
}

type cluster struct {
	start int
	end   int
}

// findTargetZones clusters indices whose score is at or above threshold.
// Two eligible indices join the same cluster when idx-prev <= maxGap+1.
func findTargetZones(scores []float64, threshold float64, maxGap int) []cluster {
	var valid []int
	for i, v := range scores {
		if v >= threshold {
			valid = append(valid, i)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	var clusters []cluster
	clusterStart := valid[0]
	prev := valid[0]

	for _, idx := range valid[1:] {
		if idx-prev > maxGap+1 {
			clusters = append(clusters, cluster{start: clusterStart, end: prev})
			clusterStart = idx
		}
		prev = idx
	}
	clusters = append(clusters, cluster{start: clusterStart, end: prev})
	return clusters
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func coveragePct(zones []SuperZone, zoneCount int) float64 {
	if zoneCount == 0 {
		return 0
	}
	covered := 0
	for _, z := range zones {
		covered += z.EndIndex - z.StartIndex + 1
	}
	return float64(covered) / float64(zoneCount) * 100
}

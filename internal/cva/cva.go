// Package cva builds the Cumulative Volume Analysis histogram: a per-zone
// record of volume-weighted candle bodies, low-wick rejections, and
// high-wick rejections over a price band, weighted by temporal decay.
package cva

import (
	"errors"
	"fmt"
	"math"

	"pulsezone/internal/candle"
	"pulsezone/internal/horizon"
)

// ErrInsufficientData is returned when the included ranges hold fewer
// candles than minCandlesForAnalysis.
var ErrInsufficientData = errors.New("cva: insufficient candles for analysis")

// scoreKind selects which of the histogram's three parallel arrays a given
// accumulation targets, and therefore whether the accumulation is
// volume-conserving (split across intersected zones) or applied in full to
// every intersected zone. Dispatch is a single switch inside the per-candle
// kernel rather than separate passes per array, per the engine's "small
// enum, not vtable" convention for score-array access.
type scoreKind int

const (
	scoreVolume scoreKind = iota
	scoreLowWick
	scoreHighWick
)

// Histogram is the CVA result: three parallel zone arrays plus the metadata
// describing how they were built.
type Histogram struct {
	ZoneCount int
	PriceMin  float64
	PriceMax  float64
	ZoneWidth float64

	CandleBodiesVW []float64
	LowWickCounts  []float64
	HighWickCounts []float64

	Ranges              []horizon.Range
	TotalCandleCount    int
	RelevantCandleCount int
	AverageVolatility   float64
	IntervalWidthMs     int64
	AppliedDecayFactor  float64
	StartTimestampMs    int64
	EndTimestampMs      int64
}

// ZoneIndex maps a price to its zone index, clipping out-of-band prices to
// the nearest edge zone. Monotone: p1 <= p2 implies ZoneIndex(p1) <=
// ZoneIndex(p2). This is the scalar reference implementation; any
// vectorised (e.g. AVX-512, 8-wide) variant of this arithmetic must produce
// bit-identical indices for identical inputs — there is no separate "fast
// path" behavior to diverge from.
func (h *Histogram) ZoneIndex(p float64) int {
	if p < h.PriceMin {
		p = h.PriceMin
	}
	if p > h.PriceMax {
		p = h.PriceMax
	}
	idx := int((p - h.PriceMin) / h.ZoneWidth)
	if idx < 0 {
		idx = 0
	}
	if idx >= h.ZoneCount {
		idx = h.ZoneCount - 1
	}
	return idx
}

// Build constructs a CVA histogram over the given series and included
// ranges. decayFactor is the already-computed effective decay (see the
// tuner package's EffectiveDecay) — a value of 1 disables decay entirely.
func Build(s *candle.Series, ranges []horizon.Range, zoneCount int, decayFactor, priceMin, priceMax float64, minCandlesForAnalysis int) (*Histogram, error) {
	relevant := horizon.TotalCandles(ranges)
	if relevant < minCandlesForAnalysis {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, relevant, minCandlesForAnalysis)
	}
	if zoneCount <= 0 {
		return nil, fmt.Errorf("cva: zoneCount must be positive, got %d", zoneCount)
	}

	h := &Histogram{
		ZoneCount:           zoneCount,
		PriceMin:            priceMin,
		PriceMax:            priceMax,
		ZoneWidth:           (priceMax - priceMin) / float64(zoneCount),
		CandleBodiesVW:      make([]float64, zoneCount),
		LowWickCounts:       make([]float64, zoneCount),
		HighWickCounts:      make([]float64, zoneCount),
		Ranges:              ranges,
		TotalCandleCount:    s.Klines(),
		RelevantCandleCount: relevant,
		AppliedDecayFactor:  decayFactor,
	}

	decayBase := decayFactor
	if decayBase < 0.01 {
		decayBase = 0.01
	}

	var volatilitySum float64
	processed := 0

	for _, r := range ranges {
		for i := r.Start; i < r.End; i++ {
			c, err := s.GetCandle(i)
			if err != nil {
				return nil, err
			}
			if processed == 0 {
				h.StartTimestampMs = c.TimestampMs
			}
			h.EndTimestampMs = c.TimestampMs

			var progress float64
			if relevant > 1 {
				progress = float64(processed) / float64(relevant-1)
			}
			weight := math.Pow(decayBase, progress)

			h.accumulateCandle(c, weight)

			if c.Close != 0 {
				volatilitySum += (c.High - c.Low) / c.Close
			}
			processed++
		}
	}
	if processed > 0 {
		h.AverageVolatility = volatilitySum / float64(processed)
	}
	if processed >= 2 {
		h.IntervalWidthMs = (h.EndTimestampMs - h.StartTimestampMs) / int64(processed-1)
	}

	return h, nil
}

// accumulateCandle folds one candle into all three score arrays.
func (h *Histogram) accumulateCandle(c candle.Candle, weight float64) {
	low := clip(c.Low, h.PriceMin, h.PriceMax)
	high := clip(c.High, h.PriceMin, h.PriceMax)
	h.accumulate(scoreVolume, low, high, c.BaseVolume*weight)

	wLow, wHigh := c.LowWick()
	h.accumulate(scoreLowWick, clip(wLow, h.PriceMin, h.PriceMax), clip(wHigh, h.PriceMin, h.PriceMax), weight)

	hLow, hHigh := c.HighWick()
	h.accumulate(scoreHighWick, clip(hLow, h.PriceMin, h.PriceMax), clip(hHigh, h.PriceMin, h.PriceMax), weight)
}

// accumulate adds amount into the zones intersected by [lo,hi], dispatching
// on kind to decide whether amount is conserved (split per zone) or applied
// in full to every intersected zone.
func (h *Histogram) accumulate(kind scoreKind, lo, hi, amount float64) {
	zLo := h.ZoneIndex(lo)
	zHi := h.ZoneIndex(hi)
	if zLo > zHi {
		zLo, zHi = zHi, zLo
	}
	n := zHi - zLo + 1

	var arr []float64
	conservative := false
	switch kind {
	case scoreVolume:
		arr = h.CandleBodiesVW
		conservative = true
	case scoreLowWick:
		arr = h.LowWickCounts
	case scoreHighWick:
		arr = h.HighWickCounts
	}

	if conservative {
		share := amount / float64(n)
		for z := zLo; z <= zHi; z++ {
			arr[z] += share
		}
		return
	}
	for z := zLo; z <= zHi; z++ {
		arr[z] += amount
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package tuner derives adaptive pipeline parameters — trend lookback,
// simulation (journey) duration, effective time decay — from a pair's
// configured price horizon, and picks the best price horizon per tuning
// station.
//
// The piecewise curves are grounded on
// original_source/src/analysis/adaptive.rs (AdaptiveParameters) and the
// station envelopes on original_source/src/config/tuner.rs (STATIONS),
// with the font-glyph station names dropped per SPEC_FULL.md §12.1.
package tuner

import (
	"math"
	"time"
)

// StationID names one of the four trade-horizon presets.
type StationID string

const (
	Scalp StationID = "scalp"
	Day   StationID = "day"
	Swing StationID = "swing"
	Macro StationID = "macro"
)

// Envelope is a tuning station's scan range and target duration window.
type Envelope struct {
	ID             StationID
	PhMin          float64
	PhMax          float64
	TargetMinHours float64
	TargetMaxHours float64
}

// Stations are the four built-in tuning envelopes.
var Stations = []Envelope{
	{ID: Scalp, PhMin: 0.01, PhMax: 0.04, TargetMinHours: 1, TargetMaxHours: 6},
	{ID: Day, PhMin: 0.03, PhMax: 0.08, TargetMinHours: 6, TargetMaxHours: 24},
	{ID: Swing, PhMin: 0.05, PhMax: 0.15, TargetMinHours: 24, TargetMaxHours: 120},
	{ID: Macro, PhMin: 0.15, PhMax: 0.60, TargetMinHours: 336, TargetMaxHours: 2160},
}

// StationByID looks up a built-in envelope.
func StationByID(id StationID) (Envelope, bool) {
	for _, s := range Stations {
		if s.ID == id {
			return s, true
		}
	}
	return Envelope{}, false
}

// remap linearly maps v from [inMin,inMax] to [outMin,outMax].
func remap(v, inMin, inMax, outMin, outMax float64) float64 {
	if inMax == inMin {
		return outMin
	}
	t := (v - inMin) / (inMax - inMin)
	return outMin + t*(outMax-outMin)
}

// TrendLookbackCandles maps a price-horizon percentage to a trend-lookback
// candle count via the piecewise-linear curve
// (0.005,24) -> (0.05,288) -> (0.15,2016) -> (0.50,8640), expressed in
// 5-minute candles.
func TrendLookbackCandles(phPct float64) int {
	const day, week, month = 288.0, 2016.0, 8640.0

	var candles float64
	switch {
	case phPct < 0.05:
		candles = remap(phPct, 0.005, 0.05, 24, day)
	case phPct < 0.15:
		candles = remap(phPct, 0.05, 0.15, day, week)
	default:
		candles = remap(phPct, 0.15, 0.50, week, month)
	}
	if candles < 1 {
		candles = 1
	}
	return int(math.Round(candles))
}

// JourneyDuration computes the simulation window via the diffusive model
// with bias: candles = (ph_pct/max(volatility,1e-4) + 3)^2, converted to
// wall-clock time via the interval width and clamped to [min,max].
func JourneyDuration(phPct, avgVolatilityPct float64, intervalMs int64, minDuration, maxDuration time.Duration) time.Duration {
	vol := math.Max(avgVolatilityPct, 1e-4)
	ratio := phPct / vol
	candles := math.Pow(ratio+3.0, 2)
	totalMs := candles * float64(intervalMs)

	d := time.Duration(totalMs) * time.Millisecond
	if d < minDuration {
		return minDuration
	}
	if d > maxDuration {
		return maxDuration
	}
	return d
}

// EffectiveDecay computes configured_decay^years_spanned, clamped to >= 1.
// A zero (or negative) calendar span disables decay entirely.
func EffectiveDecay(configuredDecay, yearsSpanned float64) float64 {
	if yearsSpanned <= 0 {
		return 1
	}
	d := math.Pow(configuredDecay, yearsSpanned)
	if d < 1 {
		return 1
	}
	return d
}

// SuggestDecayFactor derives a default configured time-decay factor from a
// price-horizon percentage via a continuous three-segment curve. This is
// independent of EffectiveDecay: engine.TunePair uses it to set the pair's
// configured decay factor after each tuning scan, but it never overrides
// the calendar-span-based effective decay a CVA build actually applies
// (see SPEC_FULL.md §12.2).
func SuggestDecayFactor(phPct float64) float64 {
	switch {
	case phPct < 0.05:
		return remap(phPct, 0, 0.05, 5.0, 2.0)
	case phPct < 0.15:
		return remap(phPct, 0.05, 0.15, 2.0, 1.5)
	default:
		return math.Max(remap(phPct, 0.15, 0.50, 1.5, 1.0), 1.0)
	}
}

// CandidatePhValues generates count evenly spaced ph_pct candidates across
// a station's scan range (inclusive of both ends).
func CandidatePhValues(env Envelope, count int) []float64 {
	if count <= 1 {
		return []float64{env.PhMin}
	}
	out := make([]float64, count)
	step := (env.PhMax - env.PhMin) / float64(count-1)
	for i := 0; i < count; i++ {
		out[i] = env.PhMin + step*float64(i)
	}
	return out
}

// CandidateResult is one evaluated candidate ph_pct, carrying the
// best-opportunity duration and objective score the caller's pipeline run
// produced for it.
type CandidateResult struct {
	PhPct              float64
	BestDurationHours  float64
	BestObjectiveScore float64
}

// SelectBest picks the candidate whose best-opportunity duration lies
// closest to the station's target window, tie-breaking by objective score.
func SelectBest(env Envelope, results []CandidateResult) (CandidateResult, bool) {
	if len(results) == 0 {
		return CandidateResult{}, false
	}

	best := results[0]
	bestDist := distanceToWindow(best.BestDurationHours, env.TargetMinHours, env.TargetMaxHours)

	for _, r := range results[1:] {
		dist := distanceToWindow(r.BestDurationHours, env.TargetMinHours, env.TargetMaxHours)
		if dist < bestDist || (dist == bestDist && r.BestObjectiveScore > best.BestObjectiveScore) {
			best = r
			bestDist = dist
		}
	}
	return best, true
}

func distanceToWindow(v, min, max float64) float64 {
	switch {
	case v < min:
		return min - v
	case v > max:
		return v - max
	default:
		return 0
	}
}

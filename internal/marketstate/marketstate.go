// Package marketstate computes the (volatility, momentum, relative-volume)
// fingerprint used by the pathfinder to compare moments in time, grounded
// on original_source/src/analysis/market_state.rs's MarketState::calculate.
package marketstate

import (
	"fmt"

	"pulsezone/internal/candle"
)

// State is the market fingerprint at a single candle index.
type State struct {
	VolatilityPct  float64
	MomentumPct    float64
	RelativeVolume float64
}

// Weights scales each dimension of State when computing similarity.
type Weights struct {
	Volatility float64
	Momentum   float64
	RelVolume  float64
}

// DefaultWeights matches the spec's w_v=10, w_m=5, w_r=1.
var DefaultWeights = Weights{Volatility: 10, Momentum: 5, RelVolume: 1}

// DefaultCutoff is the similarity score at or above which two states are
// considered dissimilar and rejected.
const DefaultCutoff = 100.0

// Calculate computes the fingerprint at index i using a trend_lookback of k
// candles. Requires i >= k > 0.
func Calculate(s *candle.Series, i, k int) (State, error) {
	if k <= 0 {
		return State{}, fmt.Errorf("marketstate: trend_lookback must be positive, got %d", k)
	}
	if i < k {
		return State{}, fmt.Errorf("marketstate: index %d must be >= trend_lookback %d", i, k)
	}
	if i >= s.Klines() {
		return State{}, fmt.Errorf("marketstate: index %d out of range [0,%d)", i, s.Klines())
	}

	cur, err := s.GetCandle(i)
	if err != nil {
		return State{}, err
	}
	prev, err := s.GetCandle(i - k)
	if err != nil {
		return State{}, err
	}

	var volatility float64
	if cur.Close != 0 {
		volatility = (cur.High - cur.Low) / cur.Close
	}

	var momentum float64
	if prev.Close != 0 {
		momentum = (cur.Close - prev.Close) / prev.Close
	}

	return State{
		VolatilityPct:  volatility,
		MomentumPct:    momentum,
		RelativeVolume: s.RelativeVolumes[i],
	}, nil
}

// Similarity returns the weighted squared distance between two states.
// Lower is more similar.
func Similarity(a, b State, w Weights) float64 {
	dv := a.VolatilityPct - b.VolatilityPct
	dm := a.MomentumPct - b.MomentumPct
	dr := a.RelativeVolume - b.RelativeVolume
	return w.Volatility*dv*dv + w.Momentum*dm*dm + w.RelVolume*dr*dr
}

// Package pathfinder implements the two-phase scenario simulator of spec
// §4.F: a heavy historical-match scan run once per job, and a cheap
// percent-normalised forward replay run once per candidate trade, driving
// opportunity generation for the active strategy.
//
// Grounded on original_source/src/analysis/scenario_simulator.rs
// (ScenarioSimulator::find_historical_matches/analyze_outcome/replay_path)
// and selection_criteria.rs for target-candidate selection.
package pathfinder

import (
	"fmt"
	"math"
	"sort"

	"pulsezone/internal/candle"
	"pulsezone/internal/config"
	"pulsezone/internal/cva"
	"pulsezone/internal/ledger"
	"pulsezone/internal/marketstate"
	"pulsezone/internal/tuner"
	"pulsezone/internal/zones"
)

// HistoricalMatch is one historical index whose market state resembled
// the current moment, carrying its similarity score (lower is better).
type HistoricalMatch struct {
	Index int
	Score float64
}

// FindHistoricalMatches computes the current market state at currentIdx
// and scans [trendLookback, currentIdx-maxDurationCandles) for the
// sampleCount lowest-scoring matches below cutoff. Per spec §4.F this
// phase may run concurrently across indices and must not mutate the
// series; callers hold a read lock on the candle store for its duration.
func FindHistoricalMatches(s *candle.Series, currentIdx, trendLookback, maxDurationCandles, sampleCount int, weights marketstate.Weights, cutoff float64) ([]HistoricalMatch, marketstate.State, error) {
	current, err := marketstate.Calculate(s, currentIdx, trendLookback)
	if err != nil {
		return nil, marketstate.State{}, fmt.Errorf("pathfinder: current market state: %w", err)
	}

	endScan := currentIdx - maxDurationCandles
	if endScan < trendLookback {
		return nil, current, nil
	}

	type scored struct {
		idx   int
		score float64
	}
	candidates := make([]scored, 0, endScan-trendLookback)
	for i := trendLookback; i < endScan; i++ {
		hist, err := marketstate.Calculate(s, i, trendLookback)
		if err != nil {
			continue
		}
		score := marketstate.Similarity(current, hist, weights)
		if score < cutoff {
			candidates = append(candidates, scored{idx: i, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })
	if len(candidates) > sampleCount {
		candidates = candidates[:sampleCount]
	}

	matches := make([]HistoricalMatch, len(candidates))
	for i, c := range candidates {
		matches[i] = HistoricalMatch{Index: c.idx, Score: c.score}
	}
	return matches, current, nil
}

// outcomeKind classifies how a single replayed historical path resolved.
type outcomeKind int

const (
	outcomeTargetHit outcomeKind = iota
	outcomeStopHit
	outcomeTimedOut
)

type outcome struct {
	kind       outcomeKind
	durationMs int // candle count to resolution, meaningful for hit/stop
	finalPnl   float64
}

// SimulationResult aggregates Phase 2's replay across every historical
// match for one candidate trade.
type SimulationResult struct {
	SuccessRate     float64
	AvgDuration     float64 // candles to target, averaged over wins
	RiskRewardRatio float64
	SampleSize      int
	AvgPnlPct       float64
	ReturnVariance  float64
	MarketState     marketstate.State
}

// AnalyzeOutcome runs Phase 2 of the pathfinder: replays every historical
// match forward using percent-normalised moves, and aggregates the
// resulting hit/stop/timeout statistics for one candidate trade.
func AnalyzeOutcome(s *candle.Series, matches []HistoricalMatch, currentState marketstate.State, entryPrice, targetPrice, stopPrice float64, maxDurationCandles int, direction ledger.Direction) (*SimulationResult, error) {
	if len(matches) == 0 {
		return nil, fmt.Errorf("pathfinder: no historical matches to replay")
	}

	var winPnl, losePnl float64
	switch direction {
	case ledger.Long:
		winPnl = (targetPrice - entryPrice) / entryPrice
		losePnl = (stopPrice - entryPrice) / entryPrice
	case ledger.Short:
		winPnl = (entryPrice - targetPrice) / entryPrice
		losePnl = (entryPrice - stopPrice) / entryPrice
	}

	var wins, validSamples int
	var totalDuration, totalPnl float64
	realized := make([]float64, 0, len(matches))

	for _, m := range matches {
		out := replayPath(s, m.Index, entryPrice, targetPrice, stopPrice, maxDurationCandles, direction)
		validSamples++
		switch out.kind {
		case outcomeTargetHit:
			wins++
			totalDuration += float64(out.durationMs)
			totalPnl += winPnl
			realized = append(realized, winPnl)
		case outcomeStopHit:
			totalPnl += losePnl
			realized = append(realized, losePnl)
		case outcomeTimedOut:
			totalPnl += out.finalPnl
			realized = append(realized, out.finalPnl)
		}
	}

	if validSamples == 0 {
		return nil, fmt.Errorf("pathfinder: no valid replay samples")
	}

	avgDuration := 0.0
	if wins > 0 {
		avgDuration = totalDuration / float64(wins)
	}

	risk := math.Abs(entryPrice - stopPrice)
	reward := math.Abs(targetPrice - entryPrice)
	rr := 0.0
	if risk > 1e-12 {
		rr = reward / risk
	}

	avgPnl := totalPnl / float64(validSamples)

	var variance float64
	if len(realized) > 0 {
		for _, r := range realized {
			d := r - avgPnl
			variance += d * d
		}
		variance /= float64(len(realized))
	}

	return &SimulationResult{
		SuccessRate:     float64(wins) / float64(validSamples),
		AvgDuration:     avgDuration,
		RiskRewardRatio: rr,
		SampleSize:      validSamples,
		AvgPnlPct:       avgPnl,
		ReturnVariance:  variance,
		MarketState:     currentState,
	}, nil
}

// replayPath walks a historical start index forward, interpreting every
// subsequent candle's high/low/close as percent changes from that path's
// own close at start, normalised against the current target/stop distance.
func replayPath(s *candle.Series, startIdx int, entryPriceRef, target, stop float64, duration int, direction ledger.Direction) outcome {
	histEntry := s.Closes[startIdx]
	targetDist := (target - entryPriceRef) / entryPriceRef
	stopDist := (stop - entryPriceRef) / entryPriceRef

	var finalPnl float64
	for i := 1; i <= duration; i++ {
		idx := startIdx + i
		if idx >= s.Klines() {
			break
		}

		lowChange := (s.Lows[idx] - histEntry) / histEntry
		highChange := (s.Highs[idx] - histEntry) / histEntry
		closeChange := (s.Closes[idx] - histEntry) / histEntry

		var hitTarget, hitStop bool
		switch direction {
		case ledger.Long:
			finalPnl = closeChange
			hitTarget = highChange >= targetDist
			hitStop = lowChange <= stopDist
		case ledger.Short:
			finalPnl = -closeChange
			hitTarget = lowChange <= targetDist
			hitStop = highChange >= stopDist
		}

		if hitStop {
			// Both touched in the same candle is treated pessimistically as
			// a stop hit.
			return outcome{kind: outcomeStopHit, durationMs: i}
		}
		if hitTarget {
			return outcome{kind: outcomeTargetHit, durationMs: i}
		}
	}
	return outcome{kind: outcomeTimedOut, finalPnl: finalPnl}
}

// ObjectiveScore computes the strategy-specific score of spec §4.F's
// table from a completed simulation and its wall-clock average duration.
func ObjectiveScore(strategy config.Strategy, sim SimulationResult, avgDurationMs float64) float64 {
	const yearMs = 365.0 * 24 * 3600 * 1000
	aroi := 0.0
	if avgDurationMs > 0 {
		aroi = sim.AvgPnlPct * (yearMs / avgDurationMs)
	}

	switch strategy {
	case config.MaxROI:
		return sim.AvgPnlPct
	case config.MaxAROI:
		return aroi
	case config.Balanced:
		if sim.AvgPnlPct <= 0 {
			return sim.AvgPnlPct
		}
		prod := sim.AvgPnlPct * aroi
		if prod < 0 {
			prod = 0
		}
		return math.Sqrt(prod)
	case config.LogGrowth:
		n := float64(sim.SampleSize)
		if n >= 2 {
			return sim.AvgPnlPct*(1-1/math.Sqrt(n)) - 0.5*sim.ReturnVariance
		}
		return sim.AvgPnlPct
	default:
		return sim.AvgPnlPct
	}
}

// candidateTargets collects trial target prices from the zone classifier's
// SuperZones (their midpoints) plus an evenly spaced scout/drill walk of
// the price-horizon band, per spec §4.F.
func candidateTargets(zr *zones.Result, priceMin, priceMax float64, drillSteps int) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	add := func(p float64) {
		if p <= 0 || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	allZones := [][]zones.SuperZone{zr.Sticky, zr.LowWick, zr.HighWick}
	for _, group := range allZones {
		for _, z := range group {
			add((z.Bottom + z.Top) / 2)
		}
	}

	if drillSteps > 0 && priceMax > priceMin {
		step := (priceMax - priceMin) / float64(drillSteps+1)
		for i := 1; i <= drillSteps; i++ {
			add(priceMin + step*float64(i))
		}
	}

	return out
}

// TradeProfile is the minimum-acceptable floor a candidate's simulated
// performance must clear to be surfaced as an opportunity.
type TradeProfile struct {
	MinROI  float64
	MinAROI float64
}

// GenerateOptions bundles the parameters GenerateOpportunities needs
// beyond the series/histogram/zones already computed earlier in the B→C→D
// pipeline stage.
type GenerateOptions struct {
	Pair               string
	StationID          tuner.StationID
	PhPct              float64
	Strategy           config.Strategy
	CurrentIdx         int
	CurrentPrice       float64
	TrendLookback      int
	MaxDurationCandles int
	IntervalMs         int64
	SampleCount        int
	Weights            marketstate.Weights
	Cutoff             float64
	RiskRewardTests    []float64
	Profile            TradeProfile
	MaxResults         int
	DiversityRegions   int
	DiversityCutoff    float64
	DrillSteps         int
}

// GenerateOpportunities runs Phase 1 once, then Phase 2 per candidate
// target/stop pair, scoring each by the active strategy, enforcing the
// TradeProfile floor, and applying geographic diversity filtering across
// the price-horizon band before truncating to MaxResults.
func GenerateOpportunities(s *candle.Series, h *cva.Histogram, zr *zones.Result, opt GenerateOptions) ([]ledger.TradeOpportunity, error) {
	matches, marketState, err := FindHistoricalMatches(s, opt.CurrentIdx, opt.TrendLookback, opt.MaxDurationCandles, opt.SampleCount, opt.Weights, opt.Cutoff)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	baseStopUnit := h.AverageVolatility * opt.CurrentPrice
	if baseStopUnit <= 0 {
		baseStopUnit = opt.CurrentPrice * 0.01
	}

	targets := candidateTargets(zr, h.PriceMin, h.PriceMax, opt.DrillSteps)

	var candidates []scoredOpp

	for _, target := range targets {
		direction := ledger.Long
		if target < opt.CurrentPrice {
			direction = ledger.Short
		}

		var variants []ledger.Variant
		var best *scoredOpp

		for _, mult := range opt.RiskRewardTests {
			var stop float64
			if direction == ledger.Long {
				stop = opt.CurrentPrice - mult*baseStopUnit
			} else {
				stop = opt.CurrentPrice + mult*baseStopUnit
			}

			sim, err := AnalyzeOutcome(s, matches, marketState, opt.CurrentPrice, target, stop, opt.MaxDurationCandles, direction)
			if err != nil {
				continue
			}

			avgDurationMs := sim.AvgDuration * float64(opt.IntervalMs)
			score := ObjectiveScore(opt.Strategy, *sim, avgDurationMs)
			aroi := 0.0
			if avgDurationMs > 0 {
				aroi = sim.AvgPnlPct * (365.0 * 24 * 3600 * 1000 / avgDurationMs)
			}

			variants = append(variants, ledger.Variant{
				StopPrice:       stop,
				RiskRewardRatio: sim.RiskRewardRatio,
				SuccessRate:     sim.SuccessRate,
				AvgPnlPct:       sim.AvgPnlPct,
				ObjectiveScore:  score,
			})

			if sim.AvgPnlPct < opt.Profile.MinROI || aroi < opt.Profile.MinAROI {
				continue
			}

			if best == nil || score > best.score {
				best = &scoredOpp{
					score: score,
					opp: ledger.TradeOpportunity{
						Pair:           opt.Pair,
						Direction:      direction,
						Strategy:       opt.Strategy,
						StationID:      opt.StationID,
						StartPrice:     opt.CurrentPrice,
						TargetPrice:    target,
						StopPrice:      stop,
						AvgDurationMs:  avgDurationMs,
						MaxDurationMs:  float64(opt.MaxDurationCandles) * float64(opt.IntervalMs),
						PhPct:          opt.PhPct,
						MarketState:    marketState,
						SuccessRate:    sim.SuccessRate,
						AvgPnlPct:      sim.AvgPnlPct,
						ReturnVariance: sim.ReturnVariance,
						SampleSize:     sim.SampleSize,
					},
				}
			}
		}

		if best != nil {
			best.opp.Variants = variants
			candidates = append(candidates, *best)
		}
	}

	return diversityFilter(candidates, h.PriceMin, h.PriceMax, opt.DiversityRegions, opt.DiversityCutoff, opt.MaxResults), nil
}

// scoredOpp pairs a generated opportunity with its objective score, used
// while ranking candidates before diversity filtering.
type scoredOpp struct {
	opp   ledger.TradeOpportunity
	score float64
}

// diversityFilter splits the price-horizon band into regions and keeps
// only the best-scoring candidate per region, forcing geographic spread
// before the final truncation to maxResults.
func diversityFilter(candidates []scoredOpp, priceMin, priceMax float64, regions int, cutoffFrac float64, maxResults int) []ledger.TradeOpportunity {
	if len(candidates) == 0 {
		return nil
	}
	if regions <= 0 {
		regions = 1
	}
	bandWidth := priceMax - priceMin
	if bandWidth <= 0 {
		bandWidth = 1
	}

	bestPerRegion := make(map[int]scoredOpp)
	for _, c := range candidates {
		region := int((c.opp.TargetPrice - priceMin) / bandWidth * float64(regions))
		if region < 0 {
			region = 0
		}
		if region >= regions {
			region = regions - 1
		}
		cur, ok := bestPerRegion[region]
		if !ok || c.score > cur.score {
			bestPerRegion[region] = c
		}
	}

	out := make([]scoredOpp, 0, len(bestPerRegion))
	for _, c := range bestPerRegion {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })

	maxAllowed := maxResults
	if cutoffFrac > 0 && cutoffFrac < 1 {
		regionCap := int(math.Ceil(float64(regions) * cutoffFrac))
		if regionCap > 0 && regionCap < maxAllowed {
			maxAllowed = regionCap
		}
	}
	if maxAllowed > 0 && len(out) > maxAllowed {
		out = out[:maxAllowed]
	}

	result := make([]ledger.TradeOpportunity, len(out))
	for i, c := range out {
		result[i] = c.opp
	}
	return result
}

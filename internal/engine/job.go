package engine

import (
	"fmt"
	"time"

	"pulsezone/internal/config"
	"pulsezone/internal/cva"
	"pulsezone/internal/ledger"
	"pulsezone/internal/tuner"
	"pulsezone/internal/zones"
)

// errNoSeries reports that a job's pair has no candle data yet.
func errNoSeries(pair string) error {
	return fmt.Errorf("engine: no candle series stored for pair %q", pair)
}

// JobMode distinguishes a full analysis pass from a cheaper context-only
// refresh (price cache/market-state update without opportunity search).
type JobMode int

const (
	ModeFull JobMode = iota
	ModeContextOnly
)

// Job is one unit of work dispatched to a worker, per spec §4.H.
type Job struct {
	Pair          string
	PriceOverride *float64
	PhPct         float64
	Strategy      config.Strategy
	StationID     tuner.StationID
	Mode          JobMode
}

// TradingModel is the per-pair analysis snapshot produced by a worker's
// B→C→D→F pipeline run: the CVA histogram, classified zones, and the
// opportunities generated from them.
type TradingModel struct {
	Histogram     *cva.Histogram
	Zones         *zones.Result
	Opportunities []ledger.TradeOpportunity
	CurrentPrice  float64
	BuiltAt       time.Time
}

// JobResult is what a worker sends back to the control thread after
// running a job.
type JobResult struct {
	Pair  string
	Model *TradingModel
	Err   error
}

// PairRuntime tracks a pair's last known state for the status surface and
// dispatch rules: whether a job is currently in flight, the last price a
// job ran against, and the last error encountered — surfaced to the UI
// rather than only logged, per original_source's PairRuntime.last_error.
type PairRuntime struct {
	Model           *TradingModel
	LastUpdatePrice float64
	IsCalculating   bool
	LastError       error
	LastRunAt       time.Time
}

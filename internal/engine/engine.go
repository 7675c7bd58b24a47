// Package engine implements the control thread of spec §4.H: the owner of
// the candle store, the ledger, the price cache, the job queue, and the
// worker pool that runs the B→C→D→F analysis pipeline per pair.
//
// Grounded on the teacher's internal/supervisor.Supervisor for the
// worker-pool/goroutine-lifecycle shape (plain goroutines plus a
// WaitGroup and zap logging, no external scheduling library), generalised
// from N independent long-running connectors to a fixed worker pool
// draining one shared job queue.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulsezone/internal/candle"
	"pulsezone/internal/config"
	"pulsezone/internal/cva"
	"pulsezone/internal/horizon"
	"pulsezone/internal/ledger"
	"pulsezone/internal/marketstate"
	"pulsezone/internal/metrics"
	"pulsezone/internal/pathfinder"
	"pulsezone/internal/sink"
	"pulsezone/internal/tuner"
	"pulsezone/internal/zones"
)

// Params bundles the tunable knobs of spec §4.H/§4.J that are not already
// carried per-pair by config.SharedConfig.
type Params struct {
	Workers                 int
	MaintenanceInterval     time.Duration
	PriceRecalcThresholdPct float64
	MinCandlesForAnalysis   int
	ZoneCount               int
	MinJourneyDuration      time.Duration
	MaxJourneyDuration      time.Duration
	IntervalMs              int64
	SampleCount             int
	Weights                 marketstate.Weights
	SimilarityCutoff        float64
	RiskRewardTests         []float64
	Profile                 pathfinder.TradeProfile
	MaxResults              int
	DiversityRegions        int
	DiversityCutoff         float64
	DrillSteps              int
}

// Engine owns every piece of mutable state described in spec §4.H and runs
// the dispatch/worker/maintenance loops. Zero value is not usable; build
// with New.
type Engine struct {
	store *candle.Store

	// ledgerMu serialises every call into ledger (resultLoop's Evolve,
	// maintenanceLoop's DetectExit/Remove/PruneCollisions/Retain, and the
	// status surface's read-only GetAll). The Ledger type itself holds no
	// lock by design; this is the single point of serialisation spec §5
	// requires the engine to provide.
	ledgerMu sync.Mutex
	ledger   *ledger.Ledger

	shared  *config.SharedConfig
	sink    sink.TradeResultSink
	logger  *zap.Logger
	metrics *metrics.Registry
	params  Params

	queue *jobQueue

	priceMu    sync.RWMutex
	priceCache map[string]float64

	lastAnalysisMu sync.RWMutex
	lastAnalysis   map[string]float64

	runtimeMu sync.RWMutex
	runtime   map[string]*PairRuntime

	sessionMu sync.RWMutex
	session   map[string]bool

	results chan JobResult

	wg     sync.WaitGroup
	cancel context.CancelFunc

	notifier Notifier
}

// Notifier receives engine-side events for onward delivery to the Redis
// bus and the UI broadcaster (spec §6, §9). Both methods must not block —
// the engine's resultLoop/maintenanceLoop goroutines call them inline.
type Notifier interface {
	NotifyOpportunity(o ledger.TradeOpportunity, isNew bool)
	NotifyTradeResult(r ledger.TradeResult)
}

// SetNotifier wires a Notifier for opportunity/trade-result fan-out. Nil
// (the zero value) disables fan-out, which is fine for tests.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// New builds an Engine. Call Run to start the worker pool, dispatcher, and
// maintenance timer; cancel the context passed to Run to stop all three.
func New(store *candle.Store, led *ledger.Ledger, shared *config.SharedConfig, tradeSink sink.TradeResultSink, reg *metrics.Registry, logger *zap.Logger, params Params) *Engine {
	return &Engine{
		store:        store,
		ledger:       led,
		shared:       shared,
		sink:         tradeSink,
		logger:       logger.Named("engine"),
		metrics:      reg,
		params:       params,
		queue:        newJobQueue(),
		priceCache:   make(map[string]float64),
		lastAnalysis: make(map[string]float64),
		runtime:      make(map[string]*PairRuntime),
		session:      make(map[string]bool),
		results:      make(chan JobResult, params.Workers*2),
	}
}

// Run starts the worker pool, the result-processing loop, and the
// maintenance timer, then blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	done := ctx.Done()

	for i := 0; i < e.params.Workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(i, done)
	}

	e.wg.Add(1)
	go e.resultLoop(done)

	e.wg.Add(1)
	go e.maintenanceLoop(done)

	<-ctx.Done()
	e.wg.Wait()
}

// Stop cancels the engine's context, causing Run to return once every
// goroutine drains.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// RegisterPair adds pair to the active session set and seeds its shared
// config defaults, enqueueing an initial full-analysis job.
func (e *Engine) RegisterPair(pair string) {
	e.sessionMu.Lock()
	e.session[pair] = true
	e.sessionMu.Unlock()

	e.shared.RegisterPair(pair)

	e.runtimeMu.Lock()
	if _, ok := e.runtime[pair]; !ok {
		e.runtime[pair] = &PairRuntime{}
	}
	e.runtimeMu.Unlock()

	e.enqueueFull(pair, "pair_registered")
}

// UnregisterPair drops pair from the active session set. The next
// maintenance pass removes its ledger entries and runtime state.
func (e *Engine) UnregisterPair(pair string) {
	e.sessionMu.Lock()
	delete(e.session, pair)
	e.sessionMu.Unlock()
}

// OnCandleClosed is trigger 1 of spec §4.H: a live candle for pair has
// closed, so a fresh full-analysis job is due.
func (e *Engine) OnCandleClosed(pair string, closePrice float64) {
	e.setPrice(pair, closePrice)
	e.enqueueFull(pair, "candle_closed")
}

// OnPriceTick is trigger 2: updates the price cache and enqueues a job if
// the price has drifted beyond PriceRecalcThresholdPct since the last
// analysis.
func (e *Engine) OnPriceTick(pair string, price float64) {
	e.setPrice(pair, price)

	e.lastAnalysisMu.RLock()
	last, seen := e.lastAnalysis[pair]
	e.lastAnalysisMu.RUnlock()

	if !seen || last == 0 {
		return
	}
	drift := (price - last) / last
	if drift < 0 {
		drift = -drift
	}
	if drift > e.params.PriceRecalcThresholdPct {
		e.enqueueFull(pair, "price_drift")
	}
}

// OnConfigChanged is trigger 3: the user changed the strategy or a pair's
// station/ph setting, so a fresh full-analysis job is due for pair (or for
// every session pair, if pair is "").
func (e *Engine) OnConfigChanged(pair string) {
	if pair != "" {
		e.enqueueFull(pair, "config_changed")
		return
	}
	e.sessionMu.RLock()
	pairs := make([]string, 0, len(e.session))
	for p := range e.session {
		pairs = append(pairs, p)
	}
	e.sessionMu.RUnlock()

	jobs := make([]Job, 0, len(pairs))
	for _, p := range pairs {
		jobs = append(jobs, e.buildJob(p, ModeFull))
	}
	e.queue.ClearAndEnqueueAll(jobs, "")
}

func (e *Engine) setPrice(pair string, price float64) {
	e.priceMu.Lock()
	e.priceCache[pair] = price
	e.priceMu.Unlock()
}

func (e *Engine) currentPrice(pair string) (float64, bool) {
	e.priceMu.RLock()
	defer e.priceMu.RUnlock()
	p, ok := e.priceCache[pair]
	return p, ok
}

func (e *Engine) enqueueFull(pair, reason string) {
	e.runtimeMu.RLock()
	rt, ok := e.runtime[pair]
	e.runtimeMu.RUnlock()
	if ok && rt.IsCalculating {
		if e.metrics != nil {
			e.metrics.JobsDropped.WithLabelValues(pair).Inc()
		}
		return
	}

	job := e.buildJob(pair, ModeFull)
	e.queue.Enqueue(job)
	if e.metrics != nil {
		e.metrics.JobsEnqueued.WithLabelValues(pair, "full").Inc()
	}
	e.logger.Debug("job enqueued", zap.String("pair", pair), zap.String("reason", reason))
}

func (e *Engine) buildJob(pair string, mode JobMode) Job {
	return Job{
		Pair:      pair,
		PhPct:     e.shared.PhPct(pair),
		Strategy:  e.shared.GlobalStrategy(),
		StationID: e.shared.Station(pair),
		Mode:      mode,
	}
}

// workerLoop pulls jobs off the queue and runs the B→C→D→F pipeline,
// holding only a read lock on the candle store for the duration — the
// worker contract of spec §4.H.
func (e *Engine) workerLoop(id int, done <-chan struct{}) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker", id))

	for {
		job, ok := e.queue.DequeueBlocking(done)
		if !ok {
			return
		}

		e.runtimeMu.Lock()
		rt, exists := e.runtime[job.Pair]
		if !exists {
			rt = &PairRuntime{}
			e.runtime[job.Pair] = rt
		}
		rt.IsCalculating = true
		e.runtimeMu.Unlock()

		start := time.Now()
		result := e.runJob(job)
		if e.metrics != nil {
			e.metrics.JobDuration.WithLabelValues(job.Pair, "full").Observe(time.Since(start).Seconds())
		}

		e.runtimeMu.Lock()
		rt.IsCalculating = false
		rt.LastRunAt = time.Now()
		rt.LastError = result.Err
		if result.Model != nil {
			rt.Model = result.Model
			rt.LastUpdatePrice = result.Model.CurrentPrice
		}
		e.runtimeMu.Unlock()

		if result.Err != nil {
			logger.Warn("job failed", zap.String("pair", job.Pair), zap.Error(result.Err))
			continue
		}

		select {
		case e.results <- result:
		case <-done:
			return
		}
	}
}

// runJob executes the B→C→D→F pipeline for one pair under a read lock on
// the candle store.
func (e *Engine) runJob(job Job) JobResult {
	e.store.RLock()
	defer e.store.RUnlock()

	series, ok := e.store.Series(job.Pair)
	if !ok || series.Klines() == 0 {
		return JobResult{Pair: job.Pair, Err: errNoSeries(job.Pair)}
	}

	currentPrice, hasPrice := e.currentPrice(job.Pair)
	if !hasPrice {
		currentPrice = series.Closes[series.Klines()-1]
	}
	if job.PriceOverride != nil {
		currentPrice = *job.PriceOverride
	}

	ranges, priceMin, priceMax := horizon.Select(series, currentPrice, job.PhPct)

	decayFactor := tuner.EffectiveDecay(e.shared.DecayFactor(job.Pair), yearsSpanned(series))
	cvaStart := time.Now()
	h, err := cva.Build(series, ranges, e.params.ZoneCount, decayFactor, priceMin, priceMax, e.params.MinCandlesForAnalysis)
	if e.metrics != nil {
		e.metrics.CVADuration.WithLabelValues(job.Pair).Observe(time.Since(cvaStart).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.InsufficientData.WithLabelValues(job.Pair).Inc()
		}
		return JobResult{Pair: job.Pair, Err: err}
	}

	zr := zones.Classify(h, currentPrice, zones.DefaultStickyParams, zones.DefaultReversalParams)

	trendLookback := tuner.TrendLookbackCandles(job.PhPct)
	journey := tuner.JourneyDuration(job.PhPct, h.AverageVolatility, e.params.IntervalMs, e.params.MinJourneyDuration, e.params.MaxJourneyDuration)
	maxDurationCandles := int(journey.Milliseconds() / max64(e.params.IntervalMs, 1))
	if maxDurationCandles < 1 {
		maxDurationCandles = 1
	}

	currentIdx := series.Klines() - 1

	var opportunities []ledger.TradeOpportunity
	if currentIdx >= trendLookback+maxDurationCandles {
		opportunities, err = pathfinder.GenerateOpportunities(series, h, zr, pathfinder.GenerateOptions{
			Pair:               job.Pair,
			StationID:          job.StationID,
			PhPct:              job.PhPct,
			Strategy:           job.Strategy,
			CurrentIdx:         currentIdx,
			CurrentPrice:       currentPrice,
			TrendLookback:      trendLookback,
			MaxDurationCandles: maxDurationCandles,
			IntervalMs:         e.params.IntervalMs,
			SampleCount:        e.params.SampleCount,
			Weights:            e.params.Weights,
			Cutoff:             e.params.SimilarityCutoff,
			RiskRewardTests:    e.params.RiskRewardTests,
			Profile:            e.params.Profile,
			MaxResults:         e.params.MaxResults,
			DiversityRegions:   e.params.DiversityRegions,
			DiversityCutoff:    e.params.DiversityCutoff,
			DrillSteps:         e.params.DrillSteps,
		})
		if err != nil {
			return JobResult{Pair: job.Pair, Err: err}
		}
	}

	e.lastAnalysisMu.Lock()
	e.lastAnalysis[job.Pair] = currentPrice
	e.lastAnalysisMu.Unlock()

	return JobResult{
		Pair: job.Pair,
		Model: &TradingModel{
			Histogram:     h,
			Zones:         zr,
			Opportunities: opportunities,
			CurrentPrice:  currentPrice,
			BuiltAt:       time.Now(),
		},
	}
}

// resultLoop applies every worker result's opportunities via
// ledger.Evolve under ledgerMu, which serialises these merges with the
// maintenance pass's ledger mutations per spec §5.
func (e *Engine) resultLoop(done <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-done:
			return
		case result, ok := <-e.results:
			if !ok {
				return
			}
			if result.Model == nil {
				continue
			}
			strategy := string(e.shared.GlobalStrategy())
			type evolved struct {
				opp   ledger.TradeOpportunity
				isNew bool
			}
			evolvedOpps := make([]evolved, 0, len(result.Model.Opportunities))

			e.ledgerMu.Lock()
			for _, opp := range result.Model.Opportunities {
				isNew, id := e.ledger.Evolve(opp)
				opp.ID = id
				evolvedOpps = append(evolvedOpps, evolved{opp: opp, isNew: isNew})
			}
			ledgerSize := e.ledger.Size()
			e.ledgerMu.Unlock()

			// Notifier fan-out happens after the lock is released, per spec §9:
			// no UI callback runs inside the engine's lock scope.
			for _, ev := range evolvedOpps {
				if e.notifier != nil {
					e.notifier.NotifyOpportunity(ev.opp, ev.isNew)
				}
				if e.metrics == nil {
					continue
				}
				if ev.isNew {
					e.metrics.OpportunitiesNew.WithLabelValues(result.Pair, strategy).Inc()
				} else {
					e.metrics.OpportunitiesMerged.WithLabelValues(result.Pair, strategy).Inc()
				}
			}
			if e.metrics != nil {
				e.metrics.LedgerSize.Set(float64(ledgerSize))
			}
		}
	}
}

// maintenanceLoop runs the periodic exit-detection, collision-pruning, and
// stale-pair-dropping pass of spec §4.H, once per MaintenanceInterval.
func (e *Engine) maintenanceLoop(done <-chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.params.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			e.runMaintenance()
		}
	}
}

// staleRefreshFactor bounds how many maintenance cycles a registered pair
// may go without a completed analysis before the maintenance pass forces
// one itself, covering a pair whose live feed has gone silent (spec §4.H
// only names candle-close, price-drift, and config-change as triggers,
// but none of those fire without feed traffic).
const staleRefreshFactor = 5

// enqueueStalePairs forces a full-analysis job for any session pair whose
// last completed run is older than staleRefreshFactor maintenance
// intervals, or that has never run at all.
func (e *Engine) enqueueStalePairs(session map[string]bool, now time.Time) {
	staleAfter := e.params.MaintenanceInterval * staleRefreshFactor
	for pair := range session {
		e.runtimeMu.RLock()
		rt, ok := e.runtime[pair]
		e.runtimeMu.RUnlock()
		if ok && !rt.LastRunAt.IsZero() && now.Sub(rt.LastRunAt) < staleAfter {
			continue
		}
		e.enqueueFull(pair, "stale_refresh")
	}
}

func (e *Engine) runMaintenance() {
	now := time.Now()

	e.sessionMu.RLock()
	session := make(map[string]bool, len(e.session))
	for p := range e.session {
		session[p] = true
	}
	e.sessionMu.RUnlock()

	e.enqueueStalePairs(session, now)

	var exits []ledger.TradeResult

	e.ledgerMu.Lock()
	for _, o := range e.ledger.GetAll() {
		high, low, close, err := e.store.LatestHLC(o.Pair)
		if err != nil {
			continue
		}
		reason, exited := ledger.DetectExit(o, high, low, now)
		if !exited {
			continue
		}
		// The fill price is the level that was actually crossed, not the
		// candle's raw high/low/close: a stop exits at the stop price, a
		// target exits at the target price, and only a timeout takes the
		// candle's close (spec §8 scenario 5).
		exitPrice := close
		switch reason {
		case ledger.ExitStopHit:
			exitPrice = o.StopPrice
		case ledger.ExitTargetHit:
			exitPrice = o.TargetPrice
		}
		exits = append(exits, ledger.TradeResult{
			Opportunity: o,
			ExitReason:  reason,
			ExitPrice:   exitPrice,
			ExitTime:    now,
		})
		e.ledger.Remove(o.ID)
	}

	removed := e.ledger.PruneCollisions()
	e.ledger.Retain(func(o ledger.TradeOpportunity) bool { return session[o.Pair] })
	ledgerSize := e.ledger.Size()
	e.ledgerMu.Unlock()

	e.runtimeMu.Lock()
	for pair := range e.runtime {
		if !session[pair] {
			delete(e.runtime, pair)
		}
	}
	e.runtimeMu.Unlock()

	// Sink writes and notifier fan-out happen after the lock is released,
	// per spec §9: no UI callback runs inside the engine's lock scope.
	for _, result := range exits {
		e.sink.Write(result)
		if e.notifier != nil {
			e.notifier.NotifyTradeResult(result)
		}
		if e.metrics != nil {
			e.metrics.TradeResults.WithLabelValues(result.Opportunity.Pair, string(result.ExitReason)).Inc()
		}
	}

	if e.metrics != nil {
		if len(removed) > 0 {
			e.metrics.PrunedCollisions.Add(float64(len(removed)))
		}
		e.metrics.LedgerSize.Set(float64(ledgerSize))
		e.metrics.QueueDepth.Set(float64(e.queue.Len()))
	}
}

// PairRuntimeSnapshot returns a copy of the current runtime state for
// pair, for the read-only status surface (internal/api).
func (e *Engine) PairRuntimeSnapshot(pair string) (PairRuntime, bool) {
	e.runtimeMu.RLock()
	defer e.runtimeMu.RUnlock()
	rt, ok := e.runtime[pair]
	if !ok {
		return PairRuntime{}, false
	}
	return *rt, true
}

// LedgerSnapshot returns every opportunity currently held in the ledger,
// for the read-only status surface (internal/api). Safe to call
// concurrently with resultLoop/maintenanceLoop: it takes the same ledgerMu
// those goroutines hold while mutating the ledger.
func (e *Engine) LedgerSnapshot() []ledger.TradeOpportunity {
	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()
	return e.ledger.GetAll()
}

// tunerCandidateCount is the "small number of candidate ph_pct values" spec
// §4.J asks the tuner to scan per station.
const tunerCandidateCount = 5

// TuneStation implements the spec §4.J tuner operation: it scans a
// station's candidate ph_pct values, runs the full B→C→D→F pipeline for
// pair at each one, and returns the candidate whose best-opportunity
// duration lies closest to the station's target window. Pipeline runs go
// through runJob directly rather than the job queue, so they never touch
// the ledger or the result channel.
func (e *Engine) TuneStation(pair string, station tuner.StationID) (tuner.CandidateResult, bool) {
	env, ok := tuner.StationByID(station)
	if !ok {
		return tuner.CandidateResult{}, false
	}

	strategy := e.shared.GlobalStrategy()
	var results []tuner.CandidateResult
	for _, ph := range tuner.CandidatePhValues(env, tunerCandidateCount) {
		job := Job{Pair: pair, PhPct: ph, Strategy: strategy, StationID: station, Mode: ModeFull}
		result := e.runJob(job)
		if result.Err != nil || result.Model == nil || len(result.Model.Opportunities) == 0 {
			continue
		}

		best := result.Model.Opportunities[0]
		bestScore := ledger.QualityScore(best)
		for _, o := range result.Model.Opportunities[1:] {
			if s := ledger.QualityScore(o); s > bestScore {
				best, bestScore = o, s
			}
		}
		results = append(results, tuner.CandidateResult{
			PhPct:              ph,
			BestDurationHours:  best.AvgDurationMs / 3600000,
			BestObjectiveScore: bestScore,
		})
	}

	return tuner.SelectBest(env, results)
}

// TunePair runs TuneStation for pair's station and, on success, writes the
// selected ph_pct and its seeded decay factor into the shared
// configuration and enqueues a recalc — spec §4.I's tuned-ph_pct path into
// ph_overrides.
func (e *Engine) TunePair(pair string, station tuner.StationID) (float64, bool) {
	best, ok := e.TuneStation(pair, station)
	if !ok {
		return 0, false
	}
	e.shared.SetStation(pair, station)
	e.shared.SetPhPct(pair, best.PhPct)
	e.shared.SetDecayFactor(pair, tuner.SuggestDecayFactor(best.PhPct))
	e.OnConfigChanged(pair)
	return best.PhPct, true
}

func yearsSpanned(s *candle.Series) float64 {
	n := s.Klines()
	if n < 2 {
		return 0
	}
	spanMs := s.Timestamps[n-1] - s.Timestamps[0]
	const yearMs = 365.0 * 24 * 3600 * 1000
	return float64(spanMs) / yearMs
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

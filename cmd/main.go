// PulseZone is a price-zone and trade-opportunity engine: it ingests live
// OHLCV candles, builds decayed cumulative-volume histograms per pair,
// classifies price zones, and runs a historical-pattern pathfinder to
// surface and track trade opportunities in a fuzzy-deduplicated ledger.
//
// Process shape is grounded on the teacher's cmd/main.go lifecycle
// (initialize/start/waitForShutdown), generalised from an exchange
// microstructure pipeline to the engine/feed/bus/api wiring below.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"pulsezone/internal/api"
	"pulsezone/internal/bus"
	"pulsezone/internal/candle"
	"pulsezone/internal/config"
	"pulsezone/internal/engine"
	"pulsezone/internal/feed"
	"pulsezone/internal/ledger"
	"pulsezone/internal/logging"
	"pulsezone/internal/marketstate"
	"pulsezone/internal/metrics"
	"pulsezone/internal/pathfinder"
	"pulsezone/internal/sink"
	"pulsezone/internal/supervisor"
	"pulsezone/internal/tuner"
	pzredis "pulsezone/pkg/redis"

	"pulsezone/pkg/broadcaster"
)

const (
	defaultZoneCount             = 256
	defaultMinCandlesForAnalysis = 500
	defaultSampleCount           = 50
	defaultMaxResults            = 5
	defaultDiversityRegions      = 5
	defaultDiversityCutoff       = 0.2
	defaultDrillSteps            = 12
	defaultPriceRecalcThreshold  = 0.01
	defaultFuzzyTolerance        = 0.005
	ledgerSnapshotPath           = "pulsezone_ledger.gob"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML process configuration")
	flag.Parse()

	cfg, err := config.NewConfigLoader().LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulsezone: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Monitoring.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulsezone: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pulsezone exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	activePairs := make(map[string]bool, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		activePairs[p.Symbol] = true
	}

	led, err := ledger.LoadSnapshot(ledgerSnapshotPath, defaultFuzzyTolerance, activePairs)
	if err != nil {
		return fmt.Errorf("restore ledger snapshot: %w", err)
	}

	store := candle.NewStore()

	const defaultPhPct = 0.05 // spec §4.J default station "day" sits mid-band; 5% is a conservative seed
	defaultStation := tuner.Day
	shared := config.NewSharedConfig(cfg.Pairs, cfg.Strategy, defaultStation, defaultPhPct, 1.5)

	tradeSink, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build trade result sink: %w", err)
	}

	reg := metrics.New(logger)
	if cfg.Monitoring.MetricsEnabled {
		reg.Serve(cfg.Monitoring.MetricsAddr)
		defer reg.Shutdown(context.Background())
	}

	maintenanceInterval := 10 * time.Second
	minJourney := 1 * time.Hour
	maxJourney := 2160 * time.Hour
	if cfg.Engine.MaintenanceInterval != "" {
		if d, err := time.ParseDuration(cfg.Engine.MaintenanceInterval); err == nil {
			maintenanceInterval = d
		}
	}
	if cfg.Engine.MinJourneyDuration != "" {
		if d, err := time.ParseDuration(cfg.Engine.MinJourneyDuration); err == nil {
			minJourney = d
		}
	}
	if cfg.Engine.MaxJourneyDuration != "" {
		if d, err := time.ParseDuration(cfg.Engine.MaxJourneyDuration); err == nil {
			maxJourney = d
		}
	}
	riskRewardTests := cfg.Engine.RiskRewardTests
	if len(riskRewardTests) == 0 {
		riskRewardTests = []float64{1.0, 1.5, 2.0, 3.0, 4.0, 6.0, 10.0}
	}
	workers := cfg.Engine.Workers
	if workers <= 0 {
		workers = 4
	}
	intervalMs := cfg.Feed.IntervalMs
	if intervalMs <= 0 {
		intervalMs = 5 * 60 * 1000
	}

	params := engine.Params{
		Workers:                 workers,
		MaintenanceInterval:     maintenanceInterval,
		PriceRecalcThresholdPct: defaultPriceRecalcThreshold,
		MinCandlesForAnalysis:   defaultMinCandlesForAnalysis,
		ZoneCount:               defaultZoneCount,
		MinJourneyDuration:      minJourney,
		MaxJourneyDuration:      maxJourney,
		IntervalMs:              intervalMs,
		SampleCount:             defaultSampleCount,
		Weights:                 marketstate.DefaultWeights,
		SimilarityCutoff:        marketstate.DefaultCutoff,
		RiskRewardTests:         riskRewardTests,
		Profile:                 pathfinder.TradeProfile{MinROI: 0, MinAROI: 0},
		MaxResults:              defaultMaxResults,
		DiversityRegions:        defaultDiversityRegions,
		DiversityCutoff:         defaultDiversityCutoff,
		DrillSteps:              defaultDrillSteps,
	}

	eng := engine.New(store, led, shared, tradeSink, reg, logger, params)

	redisClient, busInstance, broadcast, err := buildFanOut(cfg, logger)
	if err != nil {
		logger.Warn("redis bus disabled, continuing without opportunity fan-out", zap.Error(err))
	}
	if busInstance != nil {
		eng.SetNotifier(newFanOutNotifier(busInstance, broadcast, logger))
	}

	sup := supervisor.NewSupervisor(logger)

	feedAdapter := feed.NewAdapter(cfg.Feed.Symbols, binanceInterval(intervalMs), parseBackoff(cfg.Feed.ReconnectBackoff), cfg.Feed.MaxReconnectAttempts, logger)
	if err := sup.AddWorker(supervisor.WorkerConfig{
		Name:           "feed",
		Exchange:       "binance",
		MaxRetries:     0,
		InitialBackoff: parseBackoff(cfg.Feed.ReconnectBackoff),
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}, feedAdapter.Run); err != nil {
		return fmt.Errorf("register feed worker: %w", err)
	}
	if err := sup.Start(); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	for _, p := range cfg.Pairs {
		eng.RegisterPair(p.Symbol)
	}

	if broadcast != nil {
		go broadcast.Run()
	}

	if cfg.API.Enabled {
		api.New(eng, shared, logger).Start(cfg.API.Addr)
	}

	ingestCtx, ingestCancel := context.WithCancel(ctx)
	defer ingestCancel()
	go pumpFeed(ingestCtx, store, eng, feedAdapter, busInstance, logger)

	go eng.Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	ingestCancel()
	if err := feedAdapter.Close(); err != nil {
		logger.Warn("feed adapter close reported an error", zap.Error(err))
	}
	if err := sup.Stop(); err != nil {
		logger.Warn("supervisor stop reported an error", zap.Error(err))
	}
	eng.Stop()

	if err := led.Snapshot(ledgerSnapshotPath); err != nil {
		logger.Error("failed to persist ledger snapshot", zap.Error(err))
	}
	if err := tradeSink.Close(context.Background()); err != nil {
		logger.Error("failed to close trade result sink", zap.Error(err))
	}
	if redisClient != nil {
		redisClient.Close()
	}

	return nil
}

// pumpFeed bridges the feed adapter's candle/tick channels into the candle
// store and the engine's trigger methods, publishing each onward to the
// Redis bus when one is configured.
func pumpFeed(ctx context.Context, store *candle.Store, eng *engine.Engine, adapter *feed.Adapter, b *bus.Bus, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-adapter.Candles:
			if !ok {
				return
			}
			if err := store.UpdateFromLive(c.Symbol, c); err != nil {
				logger.Warn("candle update rejected", zap.String("pair", c.Symbol), zap.Error(err))
				continue
			}
			if c.IsClosed {
				eng.OnCandleClosed(c.Symbol, c.Close)
			}
			if b != nil {
				if err := b.PublishCandle(ctx, c); err != nil {
					logger.Debug("publish candle failed", zap.Error(err))
				}
			}
		case t, ok := <-adapter.Ticks:
			if !ok {
				return
			}
			eng.OnPriceTick(t.Symbol, t.Price)
			if b != nil {
				if err := b.PublishTick(ctx, t); err != nil {
					logger.Debug("publish tick failed", zap.Error(err))
				}
			}
		}
	}
}

func buildSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sink.TradeResultSink, error) {
	if cfg.Postgres.DSN == "" {
		logger.Info("no postgres DSN configured, trade results are discarded")
		return sink.NopSink{}, nil
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Postgres.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return sink.NewPostgresTradeResultSink(pool, logger), nil
}

func buildFanOut(cfg *config.Config, logger *zap.Logger) (*pzredis.Client, *bus.Bus, *broadcaster.Broadcaster, error) {
	client, err := pzredis.NewClient(pzredis.ClientConfig{
		URL:      "redis://" + cfg.RedisAddr(),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	b := bus.New(client, logger)
	bc := broadcaster.NewBroadcasterWithBatching(logger, true)
	return client, b, bc, nil
}

// binanceInterval maps a configured candle width in milliseconds to the
// nearest Binance kline interval string the combined-stream endpoint
// accepts.
func binanceInterval(ms int64) string {
	switch {
	case ms <= 60*1000:
		return "1m"
	case ms <= 5*60*1000:
		return "5m"
	case ms <= 15*60*1000:
		return "15m"
	case ms <= 30*60*1000:
		return "30m"
	case ms <= 60*60*1000:
		return "1h"
	case ms <= 4*60*60*1000:
		return "4h"
	default:
		return "1d"
	}
}

func parseBackoff(s string) time.Duration {
	if s == "" {
		return time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}

// fanOutNotifier adapts the engine's Notifier interface onto the Redis bus
// and the UI websocket broadcaster: every ledger mutation the engine makes
// is announced over both, matching spec §6/§9's external interfaces.
type fanOutNotifier struct {
	bus        *bus.Bus
	broadcast  *broadcaster.Broadcaster
	logger     *zap.Logger
}

func newFanOutNotifier(b *bus.Bus, bc *broadcaster.Broadcaster, logger *zap.Logger) *fanOutNotifier {
	return &fanOutNotifier{bus: b, broadcast: bc, logger: logger.Named("fanout")}
}

func (f *fanOutNotifier) NotifyOpportunity(o ledger.TradeOpportunity, isNew bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.bus.PublishOpportunity(ctx, o, isNew); err != nil {
		f.logger.Debug("publish opportunity failed", zap.Error(err))
	}
	if f.broadcast != nil {
		if err := f.broadcast.BroadcastJSON(api.LedgerJSONOf([]ledger.TradeOpportunity{o})[0]); err != nil {
			f.logger.Debug("broadcast opportunity failed", zap.Error(err))
		}
	}
}

func (f *fanOutNotifier) NotifyTradeResult(r ledger.TradeResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.bus.PublishTradeResult(ctx, r); err != nil {
		f.logger.Debug("publish trade result failed", zap.Error(err))
	}
	if f.broadcast != nil {
		if err := f.broadcast.BroadcastJSON(r); err != nil {
			f.logger.Debug("broadcast trade result failed", zap.Error(err))
		}
	}
}


// Package config holds the process-wide Config loaded from YAML at
// startup and the concurrently-accessible SharedConfig that the UI writes
// and the engine workers read, grounded on the teacher's
// internal/config/config.go and internal/config/loader.go.
package config

import (
	"fmt"
	"sync"

	"pulsezone/internal/tuner"
)

// Strategy is the objective function used to rank trade opportunities.
type Strategy string

const (
	MaxROI    Strategy = "max_roi"
	MaxAROI   Strategy = "max_aroi"
	Balanced  Strategy = "balanced"
	LogGrowth Strategy = "log_growth"
)

// Config is the complete process configuration, loaded once at startup.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Feed       FeedConfig       `yaml:"feed"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Engine     EngineConfig     `yaml:"engine"`
	Pairs      []PairConfig     `yaml:"pairs"`
	Strategy   Strategy         `yaml:"strategy"`
}

// RedisConfig configures the candle/price inbound bus and the opportunity
// broadcast fan-out.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Timeout  string `yaml:"timeout"`
}

// PostgresConfig configures the TradeResult sink. Historical candles are
// not loaded from Postgres.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"max_conns"`
	ResultQueueSize int    `yaml:"result_queue_size"`
}

// FeedConfig configures the inbound candle/price WebSocket adapter.
type FeedConfig struct {
	WebSocketURL         string   `yaml:"websocket_url"`
	Symbols              []string `yaml:"symbols"`
	IntervalMs           int64    `yaml:"interval_ms"`
	ReconnectBackoff     string   `yaml:"reconnect_backoff"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
}

// APIConfig configures the read-only status/control HTTP surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MonitoringConfig configures the metrics/health endpoints.
type MonitoringConfig struct {
	MetricsAddr    string `yaml:"metrics_addr"`
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// EngineConfig configures the job queue, worker pool, and maintenance
// timer.
type EngineConfig struct {
	Workers             int       `yaml:"workers"`
	QueueSize           int       `yaml:"queue_size"`
	MaintenanceInterval string    `yaml:"maintenance_interval"`
	MinJourneyDuration  string    `yaml:"min_journey_duration"`
	MaxJourneyDuration  string    `yaml:"max_journey_duration"`
	RiskRewardTests     []float64 `yaml:"risk_reward_tests"`
}

// PairConfig seeds a pair's default station/price-horizon overrides at
// startup.
type PairConfig struct {
	Symbol          string          `yaml:"symbol"`
	Station         tuner.StationID `yaml:"station"`
	PhPct           float64         `yaml:"ph_pct"`
	TimeDecayFactor float64         `yaml:"time_decay_factor"`
}

// DefaultEngineConfig mirrors spec §4.J's default journey-duration bounds
// and a conservative worker/queue sizing.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:             4,
		QueueSize:           256,
		MaintenanceInterval: "30s",
		MinJourneyDuration:  "1h",
		MaxJourneyDuration:  "2160h", // 90 days
		RiskRewardTests:     []float64{1.0, 1.5, 2.0, 3.0, 4.0, 6.0, 10.0},
	}
}

// Validate checks required fields are present, filling the strategy with
// its default when unset.
func (c *Config) Validate() error {
	switch c.Strategy {
	case MaxROI, MaxAROI, Balanced, LogGrowth:
	case "":
		c.Strategy = Balanced
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("config: engine.workers must be positive, got %d", c.Engine.Workers)
	}
	for _, p := range c.Pairs {
		if p.Symbol == "" {
			return fmt.Errorf("config: pair entry missing symbol")
		}
	}
	return nil
}

// RedisAddr formats the Redis connection address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// SharedConfig is the process-wide, concurrently accessible map described
// in spec §4.I: per-pair station/price-horizon overrides plus the global
// objective strategy, protected by a single reader/writer lock.
type SharedConfig struct {
	mu               sync.RWMutex
	stationOverrides map[string]tuner.StationID
	phOverrides      map[string]float64
	decayOverrides   map[string]float64
	strategy         Strategy

	defaultStation tuner.StationID
	defaultPhPct   float64
	defaultDecay   float64
}

// NewSharedConfig builds a SharedConfig seeded with the given pair
// defaults and global strategy.
func NewSharedConfig(pairs []PairConfig, strategy Strategy, defaultStation tuner.StationID, defaultPhPct, defaultDecay float64) *SharedConfig {
	sc := &SharedConfig{
		stationOverrides: make(map[string]tuner.StationID),
		phOverrides:      make(map[string]float64),
		decayOverrides:   make(map[string]float64),
		strategy:         strategy,
		defaultStation:   defaultStation,
		defaultPhPct:     defaultPhPct,
		defaultDecay:     defaultDecay,
	}
	for _, p := range pairs {
		sc.RegisterPair(p.Symbol)
		if p.Station != "" {
			sc.stationOverrides[p.Symbol] = p.Station
		}
		if p.PhPct > 0 {
			sc.phOverrides[p.Symbol] = p.PhPct
		}
		if p.TimeDecayFactor > 0 {
			sc.decayOverrides[p.Symbol] = p.TimeDecayFactor
		}
	}
	return sc
}

// RegisterPair inserts default station/ph/decay entries for a pair that
// has none yet. Every pair processed by the engine must be registered
// before its first job is dispatched.
func (sc *SharedConfig) RegisterPair(pair string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.stationOverrides[pair]; !ok {
		sc.stationOverrides[pair] = sc.defaultStation
	}
	if _, ok := sc.phOverrides[pair]; !ok {
		sc.phOverrides[pair] = sc.defaultPhPct
	}
	if _, ok := sc.decayOverrides[pair]; !ok {
		sc.decayOverrides[pair] = sc.defaultDecay
	}
}

// Station returns the configured trade-horizon station for a pair.
func (sc *SharedConfig) Station(pair string) tuner.StationID {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if s, ok := sc.stationOverrides[pair]; ok {
		return s
	}
	return sc.defaultStation
}

// SetStation overrides a pair's trade-horizon station.
func (sc *SharedConfig) SetStation(pair string, id tuner.StationID) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stationOverrides[pair] = id
}

// PhPct returns the configured price-horizon percentage for a pair.
func (sc *SharedConfig) PhPct(pair string) float64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if v, ok := sc.phOverrides[pair]; ok {
		return v
	}
	return sc.defaultPhPct
}

// SetPhPct overrides a pair's tuned price horizon.
func (sc *SharedConfig) SetPhPct(pair string, phPct float64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.phOverrides[pair] = phPct
}

// DecayFactor returns the configured (pre-calendar-span) decay factor for
// a pair, as seeded by tuner.SuggestDecayFactor or overridden by the UI.
func (sc *SharedConfig) DecayFactor(pair string) float64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if v, ok := sc.decayOverrides[pair]; ok {
		return v
	}
	return sc.defaultDecay
}

// SetDecayFactor overrides a pair's configured decay factor.
func (sc *SharedConfig) SetDecayFactor(pair string, decay float64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.decayOverrides[pair] = decay
}

// GlobalStrategy returns the active objective strategy.
func (sc *SharedConfig) GlobalStrategy() Strategy {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.strategy
}

// SetGlobalStrategy changes the active objective strategy.
func (sc *SharedConfig) SetGlobalStrategy(s Strategy) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.strategy = s
}

// Pairs returns every pair currently registered.
func (sc *SharedConfig) Pairs() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make([]string, 0, len(sc.stationOverrides))
	for p := range sc.stationOverrides {
		out = append(out, p)
	}
	return out
}

package config

import (
	"testing"

	"pulsezone/internal/tuner"
)

func TestConfigValidateDefaultsStrategy(t *testing.T) {
	c := &Config{Engine: EngineConfig{Workers: 1}}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Strategy != Balanced {
		t.Fatalf("expected default strategy %q, got %q", Balanced, c.Strategy)
	}
}

func TestConfigValidateRejectsUnknownStrategy(t *testing.T) {
	c := &Config{Strategy: "not_a_strategy", Engine: EngineConfig{Workers: 1}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestConfigValidateRejectsMissingSymbol(t *testing.T) {
	c := &Config{Engine: EngineConfig{Workers: 1}, Pairs: []PairConfig{{}}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for pair missing symbol")
	}
}

func TestSharedConfigDefaultsAndOverrides(t *testing.T) {
	sc := NewSharedConfig(nil, Balanced, tuner.Day, 0.05, 1.5)
	sc.RegisterPair("BTCUSDT")

	if got := sc.Station("BTCUSDT"); got != tuner.Day {
		t.Fatalf("expected default station %q, got %q", tuner.Day, got)
	}
	if got := sc.PhPct("BTCUSDT"); got != 0.05 {
		t.Fatalf("expected default ph_pct 0.05, got %v", got)
	}

	sc.SetStation("BTCUSDT", tuner.Scalp)
	sc.SetPhPct("BTCUSDT", 0.02)
	sc.SetGlobalStrategy(MaxROI)

	if got := sc.Station("BTCUSDT"); got != tuner.Scalp {
		t.Fatalf("expected overridden station %q, got %q", tuner.Scalp, got)
	}
	if got := sc.PhPct("BTCUSDT"); got != 0.02 {
		t.Fatalf("expected overridden ph_pct 0.02, got %v", got)
	}
	if got := sc.GlobalStrategy(); got != MaxROI {
		t.Fatalf("expected global strategy %q, got %q", MaxROI, got)
	}
}

func TestSharedConfigSeedsFromPairConfig(t *testing.T) {
	pairs := []PairConfig{{Symbol: "ETHUSDT", Station: tuner.Swing, PhPct: 0.08, TimeDecayFactor: 2.0}}
	sc := NewSharedConfig(pairs, Balanced, tuner.Day, 0.05, 1.5)

	if got := sc.Station("ETHUSDT"); got != tuner.Swing {
		t.Fatalf("expected seeded station %q, got %q", tuner.Swing, got)
	}
	if got := sc.PhPct("ETHUSDT"); got != 0.08 {
		t.Fatalf("expected seeded ph_pct 0.08, got %v", got)
	}
	if got := sc.DecayFactor("ETHUSDT"); got != 2.0 {
		t.Fatalf("expected seeded decay 2.0, got %v", got)
	}
}

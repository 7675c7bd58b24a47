// Package sink defines the outbound TradeResult boundary (spec §6) and a
// pgx-backed concrete writer, grounded on
// original_source/src/data/results_repo.rs's ResultsRepositoryTrait and
// the teacher's internal/publisher async-queue pattern.
package sink

import (
	"context"

	"pulsezone/internal/ledger"
)

// TradeResultSink receives a finalised TradeResult on every ledger
// removal driven by an exit condition. Implementations must not block the
// caller (the engine's maintenance pass) — buffer internally if the
// underlying transport is slow.
type TradeResultSink interface {
	Write(result ledger.TradeResult)
	Close(ctx context.Context) error
}

// NopSink discards every result. Used in tests and when no persistence
// backend is configured.
type NopSink struct{}

func (NopSink) Write(ledger.TradeResult)        {}
func (NopSink) Close(ctx context.Context) error { return nil }

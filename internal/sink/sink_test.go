package sink

import (
	"context"
	"testing"

	"pulsezone/internal/ledger"
)

func TestNopSinkDiscardsWithoutError(t *testing.T) {
	var s TradeResultSink = NopSink{}
	s.Write(ledger.TradeResult{})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("expected nil error from NopSink.Close, got %v", err)
	}
}

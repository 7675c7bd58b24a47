package ledger

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
)

// Snapshot persists the ledger's current entries to a binary blob at path,
// per spec §6's shutdown persistence contract. Uses encoding/gob: no
// third-party binary codec appears anywhere in the example pack for this
// concern, so the standard library's own serialisation format is the
// idiomatic choice here (see DESIGN.md).
func (l *Ledger) Snapshot(path string) error {
	var buf bytes.Buffer
	entries := l.GetAll()
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("ledger: encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("ledger: write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores a ledger from a previously written blob, discarding
// any opportunity whose pair is absent from activePairs — per spec §6:
// "opportunities referencing pairs absent from the current session set are
// discarded." A missing file is not an error: it means a fresh ledger.
func LoadSnapshot(path string, tolerance float64, activePairs map[string]bool) (*Ledger, error) {
	l := New(tolerance)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read snapshot: %w", err)
	}

	var entries []TradeOpportunity
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("ledger: decode snapshot: %w", err)
	}

	for _, o := range entries {
		if !activePairs[o.Pair] {
			continue
		}
		l.entries[o.ID] = o
	}
	return l, nil
}

// Package candle owns the per-pair OHLCV time series and its live-update path.
//
// Storage is column-wise (parallel slices per field) rather than a slice of
// structs, so the CVA engine's hot loop can scan one field at a time without
// touching the others — the representation the teacher's OHLCV candle
// generator builds incrementally, kept here but stored for random access
// instead of emitted as a stream.
package candle

import "fmt"

// Candle is one OHLCV record. Values are trusted as supplied by the feed;
// the store does not validate low <= open/close <= high.
type Candle struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	BaseVolume  float64
	QuoteVolume float64
}

// Type classifies a candle by its open/close relationship.
type Type int

const (
	Bullish Type = iota
	Bearish
)

// Kind reports whether the candle closed at/above (Bullish) or below
// (Bearish) its open.
func (c Candle) Kind() Type {
	if c.Close >= c.Open {
		return Bullish
	}
	return Bearish
}

// BodyRange returns the (low, high) of the candle's real body, ordered so
// that body.low <= body.high regardless of candle direction.
func (c Candle) BodyRange() (low, high float64) {
	if c.Kind() == Bullish {
		return c.Open, c.Close
	}
	return c.Close, c.Open
}

// LowWick returns the [low, bodyLow] interval of the lower wick.
func (c Candle) LowWick() (low, high float64) {
	bodyLow, _ := c.BodyRange()
	return c.Low, bodyLow
}

// HighWick returns the [bodyHigh, high] interval of the upper wick.
func (c Candle) HighWick() (low, high float64) {
	_, bodyHigh := c.BodyRange()
	return bodyHigh, c.High
}

// LiveCandle is an inbound feed message — a forming or just-closed kline.
type LiveCandle struct {
	Symbol      string
	OpenTimeMs  int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	BaseVolume  float64
	QuoteVolume float64
	IsClosed    bool
}

// relativeVolumeWindow is the trailing window (in candles) used for the
// rolling relative-volume computation; clipped at the start of the series.
const relativeVolumeWindow = 20

// Series is an ordered, strictly-increasing-by-timestamp OHLCV time series
// for a single pair, stored column-wise. It additionally carries the
// rolling relative-volume series derived from BaseVolumes.
type Series struct {
	Timestamps      []int64
	Opens           []float64
	Highs           []float64
	Lows            []float64
	Closes          []float64
	BaseVolumes     []float64
	QuoteVolumes    []float64
	RelativeVolumes []float64
}

// NewSeries builds a series from a bulk historical load, computing the
// relative-volume column once over the full set.
func NewSeries(candles []Candle) *Series {
	s := &Series{}
	for _, c := range candles {
		s.Timestamps = append(s.Timestamps, c.TimestampMs)
		s.Opens = append(s.Opens, c.Open)
		s.Highs = append(s.Highs, c.High)
		s.Lows = append(s.Lows, c.Low)
		s.Closes = append(s.Closes, c.Close)
		s.BaseVolumes = append(s.BaseVolumes, c.BaseVolume)
		s.QuoteVolumes = append(s.QuoteVolumes, c.QuoteVolume)
	}
	s.RelativeVolumes = make([]float64, len(s.BaseVolumes))
	for i := range s.BaseVolumes {
		s.RelativeVolumes[i] = s.relativeVolumeAt(i)
	}
	return s
}

// Klines returns the number of candles currently stored.
func (s *Series) Klines() int {
	return len(s.Timestamps)
}

// GetCandle returns the candle at index i.
func (s *Series) GetCandle(i int) (Candle, error) {
	if i < 0 || i >= len(s.Timestamps) {
		return Candle{}, fmt.Errorf("candle index %d out of range [0,%d)", i, len(s.Timestamps))
	}
	return Candle{
		TimestampMs: s.Timestamps[i],
		Open:        s.Opens[i],
		High:        s.Highs[i],
		Low:         s.Lows[i],
		Close:       s.Closes[i],
		BaseVolume:  s.BaseVolumes[i],
		QuoteVolume: s.QuoteVolumes[i],
	}, nil
}

// CalculateVolatilityInRange returns the mean single-candle volatility,
// (high-low)/close, over the half-open index range [lo, hi).
func (s *Series) CalculateVolatilityInRange(lo, hi int) (float64, error) {
	if lo < 0 || hi > len(s.Timestamps) || lo >= hi {
		return 0, fmt.Errorf("invalid range [%d,%d) for series of length %d", lo, hi, len(s.Timestamps))
	}
	var sum float64
	for i := lo; i < hi; i++ {
		if s.Closes[i] == 0 {
			continue
		}
		sum += (s.Highs[i] - s.Lows[i]) / s.Closes[i]
	}
	return sum / float64(hi-lo), nil
}

// relativeVolumeAt computes base_volume[i] / mean(base_volume[i-19..i]),
// clipping the window at the start of the series.
func (s *Series) relativeVolumeAt(i int) float64 {
	start := i - (relativeVolumeWindow - 1)
	if start < 0 {
		start = 0
	}
	var sum float64
	count := 0
	for j := start; j <= i; j++ {
		sum += s.BaseVolumes[j]
		count++
	}
	mean := sum / float64(count)
	if mean == 0 {
		return 0
	}
	return s.BaseVolumes[i] / mean
}

// ErrOutOfOrder signals a contract violation: the caller supplied an
// open_time strictly less than the series' last timestamp. The store trusts
// its caller and does not attempt repair; this is surfaced, not retried.
type ErrOutOfOrder struct {
	LastTimestampMs int64
	GotTimestampMs  int64
}

func (e *ErrOutOfOrder) Error() string {
	return fmt.Sprintf("candle open_time %d precedes last stored timestamp %d", e.GotTimestampMs, e.LastTimestampMs)
}

// UpdateFromLive applies the live-update contract: a candle whose open_time
// equals the last stored timestamp overwrites high/low/close/volumes in
// place (the candle is still forming); any newer open_time appends a row.
// The open price of an appended row is immutable thereafter.
func (s *Series) UpdateFromLive(c LiveCandle) error {
	n := len(s.Timestamps)
	if n == 0 {
		s.appendRow(c)
		return nil
	}

	last := s.Timestamps[n-1]
	switch {
	case c.OpenTimeMs == last:
		s.Highs[n-1] = c.High
		s.Lows[n-1] = c.Low
		s.Closes[n-1] = c.Close
		s.BaseVolumes[n-1] = c.BaseVolume
		s.QuoteVolumes[n-1] = c.QuoteVolume
		s.RelativeVolumes[n-1] = s.relativeVolumeAt(n - 1)
		return nil
	case c.OpenTimeMs > last:
		s.appendRow(c)
		return nil
	default:
		return &ErrOutOfOrder{LastTimestampMs: last, GotTimestampMs: c.OpenTimeMs}
	}
}

func (s *Series) appendRow(c LiveCandle) {
	s.Timestamps = append(s.Timestamps, c.OpenTimeMs)
	s.Opens = append(s.Opens, c.Open)
	s.Highs = append(s.Highs, c.High)
	s.Lows = append(s.Lows, c.Low)
	s.Closes = append(s.Closes, c.Close)
	s.BaseVolumes = append(s.BaseVolumes, c.BaseVolume)
	s.QuoteVolumes = append(s.QuoteVolumes, c.QuoteVolume)
	s.RelativeVolumes = append(s.RelativeVolumes, 0)
	s.RelativeVolumes[len(s.RelativeVolumes)-1] = s.relativeVolumeAt(len(s.Timestamps) - 1)
}

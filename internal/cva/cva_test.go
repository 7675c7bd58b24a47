package cva

import (
	"errors"
	"math"
	"testing"

	"pulsezone/internal/candle"
	"pulsezone/internal/horizon"
)

func flatSeries(n int, price float64) *candle.Series {
	s := &candle.Series{}
	for i := 0; i < n; i++ {
		_ = s.UpdateFromLive(candle.LiveCandle{
			OpenTimeMs: int64(i * 300000),
			Open:       price, High: price + 1, Low: price - 1, Close: price,
			BaseVolume: 10,
		})
	}
	return s
}

func TestBuild_InsufficientData(t *testing.T) {
	s := flatSeries(10, 100)
	_, err := Build(s, []horizon.Range{{Start: 0, End: 10}}, 16, 1, 90, 110, 500)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestBuild_VolumeConservation(t *testing.T) {
	n := 600
	s := flatSeries(n, 100)
	h, err := Build(s, []horizon.Range{{Start: 0, End: n}}, 32, 1, 90, 110, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var total float64
	for _, v := range h.CandleBodiesVW {
		total += v
	}
	// decay factor 1 => every weight is 1.
	want := float64(n) * 10
	if math.Abs(total-want) > 1e-6 {
		t.Errorf("sum(candle_bodies_vw) = %v, want %v (volume conservation)", total, want)
	}
}

func TestBuild_WickUpperBound(t *testing.T) {
	n := 600
	s := flatSeries(n, 100)
	h, err := Build(s, []horizon.Range{{Start: 0, End: n}}, 32, 1, 90, 110, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var lowSum, highSum float64
	for _, v := range h.LowWickCounts {
		lowSum += v
	}
	for _, v := range h.HighWickCounts {
		highSum += v
	}
	upperBound := float64(h.ZoneCount) * float64(n) // sum temporal_weight == n since decay=1
	if lowSum > upperBound+1e-9 {
		t.Errorf("low wick sum %v exceeds upper bound %v", lowSum, upperBound)
	}
	if highSum > upperBound+1e-9 {
		t.Errorf("high wick sum %v exceeds upper bound %v", highSum, upperBound)
	}
}

func TestZoneIndex_Monotone(t *testing.T) {
	h := &Histogram{PriceMin: 0, PriceMax: 100, ZoneCount: 10, ZoneWidth: 10}
	prices := []float64{-5, 0, 3, 9.99, 10, 50, 99.99, 100, 150}
	for i := 1; i < len(prices); i++ {
		if h.ZoneIndex(prices[i-1]) > h.ZoneIndex(prices[i]) {
			t.Errorf("zone index not monotone: f(%v)=%d > f(%v)=%d",
				prices[i-1], h.ZoneIndex(prices[i-1]), prices[i], h.ZoneIndex(prices[i]))
		}
	}
}

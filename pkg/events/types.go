// Package events defines the message-passing contracts carried over the
// Redis bus (inbound candle/price ingestion, outbound opportunity/result
// broadcast), grounded on the teacher's pkg/events publish/subscribe
// interface shape, generalised from exchange microstructure events to
// PulseZone's own domain events.
package events

import (
	"context"
	"time"
)

// FeedSource is implemented by an inbound adapter (e.g. feed.Adapter) that
// can be driven under a supervised lifecycle.
type FeedSource interface {
	Run(ctx context.Context) error
	IsConnected() bool
	Close() error
}

// EventPublisher publishes a domain event to a named channel.
type EventPublisher interface {
	Publish(channel string, data interface{}) error
	Close() error
}

// Event is any message flowing over the bus.
type Event interface {
	GetType() string
	GetSymbol() string
	GetTimestamp() time.Time
}

// CandleEvent carries one live-updated candle onto the bus, mirroring
// candle.LiveCandle so the feed adapter and engine can communicate through
// Redis pub/sub instead of only in-process channels.
type CandleEvent struct {
	Symbol      string    `json:"symbol"`
	OpenTimeMs  int64     `json:"open_time_ms"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	BaseVolume  float64   `json:"base_volume"`
	QuoteVolume float64   `json:"quote_volume"`
	IsClosed    bool      `json:"is_closed"`
	Timestamp   time.Time `json:"timestamp"`
}

func (c *CandleEvent) GetType() string         { return "candle" }
func (c *CandleEvent) GetSymbol() string       { return c.Symbol }
func (c *CandleEvent) GetTimestamp() time.Time { return c.Timestamp }

// PriceTickEvent carries a single (symbol, price) tick onto the bus.
type PriceTickEvent struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *PriceTickEvent) GetType() string         { return "price_tick" }
func (p *PriceTickEvent) GetSymbol() string       { return p.Symbol }
func (p *PriceTickEvent) GetTimestamp() time.Time { return p.Timestamp }

// OpportunityEvent announces a ledger insert or merge — the outbound
// fan-out consumed by the UI bridge (spec §9).
type OpportunityEvent struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	TargetPrice float64   `json:"target_price"`
	StopPrice   float64   `json:"stop_price"`
	IsNew       bool      `json:"is_new"`
	Timestamp   time.Time `json:"timestamp"`
}

func (o *OpportunityEvent) GetType() string         { return "opportunity" }
func (o *OpportunityEvent) GetSymbol() string       { return o.Symbol }
func (o *OpportunityEvent) GetTimestamp() time.Time { return o.Timestamp }

// TradeResultEvent announces a finalised, exited opportunity.
type TradeResultEvent struct {
	OpportunityID string    `json:"opportunity_id"`
	Symbol        string    `json:"symbol"`
	ExitReason    string    `json:"exit_reason"`
	ExitPrice     float64   `json:"exit_price"`
	Timestamp     time.Time `json:"timestamp"`
}

func (t *TradeResultEvent) GetType() string         { return "trade_result" }
func (t *TradeResultEvent) GetSymbol() string       { return t.Symbol }
func (t *TradeResultEvent) GetTimestamp() time.Time { return t.Timestamp }

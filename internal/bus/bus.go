// Package bus wires the engine's inbound candle/price ingestion and
// outbound opportunity/result broadcast onto Redis pub/sub (spec §6, §9),
// grounded on the teacher's pkg/redis.Client publish/subscribe surface.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"pulsezone/internal/candle"
	"pulsezone/internal/feed"
	"pulsezone/internal/ledger"
	"pulsezone/pkg/events"
	pzredis "pulsezone/pkg/redis"
)

const (
	channelCandles = "pulsezone:candles"
	channelTicks   = "pulsezone:ticks"
	channelOpps    = "pulsezone:opportunities"
	channelResults = "pulsezone:trade_results"
)

// Bus fans candle/price events out to Redis and back in, and broadcasts
// opportunity/result events for the UI bridge.
type Bus struct {
	client *pzredis.Client
	logger *zap.Logger
}

// New wraps an already-connected Redis client.
func New(client *pzredis.Client, logger *zap.Logger) *Bus {
	return &Bus{client: client, logger: logger.Named("bus")}
}

// PublishCandle forwards a normalised live candle from the feed adapter
// onto the bus.
func (b *Bus) PublishCandle(ctx context.Context, c candle.LiveCandle) error {
	return b.client.Publish(ctx, channelCandles, &events.CandleEvent{
		Symbol:      c.Symbol,
		OpenTimeMs:  c.OpenTimeMs,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		BaseVolume:  c.BaseVolume,
		QuoteVolume: c.QuoteVolume,
		IsClosed:    c.IsClosed,
		Timestamp:   time.Now(),
	})
}

// PublishTick forwards a price tick from the feed adapter onto the bus.
func (b *Bus) PublishTick(ctx context.Context, t feed.PriceTick) error {
	return b.client.Publish(ctx, channelTicks, &events.PriceTickEvent{
		Symbol:    t.Symbol,
		Price:     t.Price,
		Timestamp: time.Now(),
	})
}

// PublishOpportunity announces a ledger insert or merge to UI subscribers.
func (b *Bus) PublishOpportunity(ctx context.Context, o ledger.TradeOpportunity, isNew bool) error {
	return b.client.Publish(ctx, channelOpps, &events.OpportunityEvent{
		ID:          o.ID,
		Symbol:      o.Pair,
		Direction:   string(o.Direction),
		TargetPrice: o.TargetPrice,
		StopPrice:   o.StopPrice,
		IsNew:       isNew,
		Timestamp:   time.Now(),
	})
}

// PublishTradeResult announces a finalised exit to UI subscribers.
func (b *Bus) PublishTradeResult(ctx context.Context, r ledger.TradeResult) error {
	return b.client.Publish(ctx, channelResults, &events.TradeResultEvent{
		OpportunityID: r.Opportunity.ID,
		Symbol:        r.Opportunity.Pair,
		ExitReason:    string(r.ExitReason),
		ExitPrice:     r.ExitPrice,
		Timestamp:     time.Now(),
	})
}

// CandleHandler consumes CandleEvents from the bus, e.g. applying them to
// the shared candle store from a process that doesn't run the feed
// adapter directly.
type CandleHandler func(candle.LiveCandle)

// SubscribeCandles drives handler with every CandleEvent received until
// ctx is cancelled.
func (b *Bus) SubscribeCandles(ctx context.Context, handler CandleHandler) error {
	msgs, err := b.client.Subscribe(ctx, []string{channelCandles})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev events.CandleEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping unparseable candle event", zap.Error(err))
				continue
			}
			handler(candle.LiveCandle{
				Symbol:      ev.Symbol,
				OpenTimeMs:  ev.OpenTimeMs,
				Open:        ev.Open,
				High:        ev.High,
				Low:         ev.Low,
				Close:       ev.Close,
				BaseVolume:  ev.BaseVolume,
				QuoteVolume: ev.QuoteVolume,
				IsClosed:    ev.IsClosed,
			})
		}
	}
}

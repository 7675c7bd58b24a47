// Package feed adapts an exchange WebSocket stream into the core's inbound
// contracts (spec §6): a stream of candle.LiveCandle messages and a stream
// of (symbol, price) ticks. Grounded on the teacher's
// internal/exchanges/binance.go connector, generalised from trade/depth
// normalisation to kline/trade normalisation since the core consumes
// candles and prices rather than order-book depth.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulsezone/internal/candle"
)

// PriceTick is an inbound (symbol, price) message, per spec §6.
type PriceTick struct {
	Symbol string
	Price  float64
}

// Adapter maintains a combined kline+trade WebSocket connection to Binance
// Futures for a fixed set of symbols and normalises inbound frames onto two
// output channels.
type Adapter struct {
	symbols  []string
	interval string
	logger   *zap.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool

	ctx    context.Context
	cancel context.CancelFunc

	Candles chan candle.LiveCandle
	Ticks   chan PriceTick

	reconnectBackoff time.Duration
	maxReconnects    int
	reconnectCount   int
}

// NewAdapter builds an adapter for symbols at the given kline interval
// (e.g. "5m"). reconnectBackoff and maxReconnects mirror
// config.FeedConfig.
func NewAdapter(symbols []string, interval string, reconnectBackoff time.Duration, maxReconnects int, logger *zap.Logger) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		symbols:          symbols,
		interval:         interval,
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		Candles:          make(chan candle.LiveCandle, 4096),
		Ticks:            make(chan PriceTick, 20000),
		reconnectBackoff: reconnectBackoff,
		maxReconnects:    maxReconnects,
	}
}

// binanceKlineMessage is the relevant subset of a combined-stream kline event.
type binanceKlineMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			OpenTimeMs  int64  `json:"t"`
			Open        string `json:"o"`
			High        string `json:"h"`
			Low         string `json:"l"`
			Close       string `json:"c"`
			BaseVolume  string `json:"v"`
			QuoteVolume string `json:"q"`
			IsClosed    bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// binanceTradeMessage is the relevant subset of a combined-stream trade event.
type binanceTradeMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
	} `json:"data"`
}

// Run connects and reconnects with backoff until ctx is done, feeding the
// Candles and Ticks channels. It blocks until ctx is cancelled or
// maxReconnects is exceeded.
func (a *Adapter) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.cancel()
	}()

	for {
		if err := a.connectAndRead(); err != nil {
			a.reconnectCount++
			a.logger.Warn("feed connection dropped",
				zap.Error(err),
				zap.Int("reconnect_count", a.reconnectCount),
			)
			if a.maxReconnects > 0 && a.reconnectCount > a.maxReconnects {
				return fmt.Errorf("feed: exceeded max reconnect attempts (%d): %w", a.maxReconnects, err)
			}
		}
		select {
		case <-a.ctx.Done():
			return a.ctx.Err()
		case <-time.After(a.reconnectBackoff):
		}
	}
}

func (a *Adapter) streamURL() string {
	base := "wss://fstream.binance.com/stream?streams="
	var streams []string
	for _, sym := range a.symbols {
		lower := strings.ToLower(sym)
		streams = append(streams, fmt.Sprintf("%s@kline_%s", lower, a.interval))
		streams = append(streams, fmt.Sprintf("%s@trade", lower))
	}
	return base + strings.Join(streams, "/")
}

func (a *Adapter) connectAndRead() error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	headers := http.Header{}
	headers.Set("User-Agent", "pulsezone-feed/1.0")

	conn, _, err := dialer.Dial(a.streamURL(), headers)
	if err != nil {
		return fmt.Errorf("feed: dial failed: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	a.mu.Unlock()
	a.reconnectCount = 0

	conn.SetReadLimit(655350)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	defer func() {
		a.mu.Lock()
		a.connected = false
		conn.Close()
		a.mu.Unlock()
	}()

	go a.pingLoop(conn)

	for {
		select {
		case <-a.ctx.Done():
			return a.ctx.Err()
		default:
		}
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read failed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		a.dispatch(message)
	}
}

func (a *Adapter) dispatch(message []byte) {
	var kline binanceKlineMessage
	if err := json.Unmarshal(message, &kline); err == nil && kline.Data.EventType == "kline" {
		lc, err := toLiveCandle(kline)
		if err != nil {
			a.logger.Debug("dropping unparseable kline", zap.Error(err))
			return
		}
		select {
		case a.Candles <- lc:
		default:
			a.logger.Warn("candle channel full, dropping message", zap.String("symbol", lc.Symbol))
		}
		return
	}

	var trade binanceTradeMessage
	if err := json.Unmarshal(message, &trade); err == nil && trade.Data.EventType == "trade" {
		price, err := strconv.ParseFloat(trade.Data.Price, 64)
		if err != nil {
			return
		}
		tick := PriceTick{Symbol: strings.ToLower(trade.Data.Symbol), Price: price}
		select {
		case a.Ticks <- tick:
		default:
		}
	}
}

func toLiveCandle(m binanceKlineMessage) (candle.LiveCandle, error) {
	open, err := strconv.ParseFloat(m.Data.Kline.Open, 64)
	if err != nil {
		return candle.LiveCandle{}, err
	}
	high, err := strconv.ParseFloat(m.Data.Kline.High, 64)
	if err != nil {
		return candle.LiveCandle{}, err
	}
	low, err := strconv.ParseFloat(m.Data.Kline.Low, 64)
	if err != nil {
		return candle.LiveCandle{}, err
	}
	closeP, err := strconv.ParseFloat(m.Data.Kline.Close, 64)
	if err != nil {
		return candle.LiveCandle{}, err
	}
	baseVol, err := strconv.ParseFloat(m.Data.Kline.BaseVolume, 64)
	if err != nil {
		return candle.LiveCandle{}, err
	}
	quoteVol, err := strconv.ParseFloat(m.Data.Kline.QuoteVolume, 64)
	if err != nil {
		return candle.LiveCandle{}, err
	}
	return candle.LiveCandle{
		Symbol:      strings.ToLower(m.Data.Symbol),
		OpenTimeMs:  m.Data.Kline.OpenTimeMs,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
		BaseVolume:  baseVol,
		QuoteVolume: quoteVol,
		IsClosed:    m.Data.Kline.IsClosed,
	}, nil
}

func (a *Adapter) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.mu.RLock()
			live := a.connected && a.conn == conn
			a.mu.RUnlock()
			if !live {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				a.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// IsConnected reports whether the adapter currently holds a live connection.
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Close stops the adapter and releases its connection.
func (a *Adapter) Close() error {
	a.cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		a.conn.Close()
		a.conn = nil
	}
	a.connected = false
	return nil
}

// Package market provides the venue feed adapters that turn exchange
// websocket streams into normalized Trade/OHLCV events, one goroutine per
// venue, with reconnects driven by the shared internal/reconnect lifecycle.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/reconnect"
	"github.com/titan-scanner/core/pkg/types"
)

// TradeHandler receives a normalized trade from any subscribed venue feed.
type TradeHandler func(venue string, trade types.Trade)

// OHLCVHandler receives a normalized candle close from any subscribed venue feed.
type OHLCVHandler func(venue string, symbol string, interval string, candle types.OHLCV)

// FeedConfig configures one venue's websocket feed.
type FeedConfig struct {
	Venue     string
	WSURL     string
	Symbols   []string
	Intervals []string // kline intervals, e.g. "1m", "5m", "1h"
	Reconnect reconnect.Config
}

// DefaultFeedConfig returns a Binance-shaped default, the only venue wire
// format this adapter currently speaks natively.
func DefaultFeedConfig(venue string, symbols []string) FeedConfig {
	return FeedConfig{
		Venue:     venue,
		WSURL:     "wss://stream.binance.com:9443/ws",
		Symbols:   symbols,
		Intervals: []string{"1m", "5m", "15m", "1h"},
		Reconnect: reconnect.DefaultConfig(),
	}
}

// Feed owns a single venue's websocket connection and republishes its
// stream as normalized Trade/OHLCV callbacks. It is the sole owner of its
// connection; callers subscribe to its output, never reach in to poke it.
type Feed struct {
	logger *zap.Logger
	cfg    FeedConfig
	life   *reconnect.Lifecycle

	connMu sync.RWMutex
	conn   *websocket.Conn

	onTrade TradeHandler
	onOHLCV OHLCVHandler

	ohlcvMu    sync.RWMutex
	ohlcvCache map[string][]types.OHLCV
}

// NewFeed constructs a Feed for one venue. Call Run to start it; Run blocks
// until ctx is cancelled, internally looping connect/read/reconnect.
func NewFeed(logger *zap.Logger, cfg FeedConfig) *Feed {
	return &Feed{
		logger:     logger.Named("market." + cfg.Venue),
		cfg:        cfg,
		life:       reconnect.New(cfg.Venue, cfg.Reconnect, logger),
		ohlcvCache: make(map[string][]types.OHLCV),
	}
}

// OnTrade registers the trade callback. Must be called before Run.
func (f *Feed) OnTrade(fn TradeHandler) { f.onTrade = fn }

// OnOHLCV registers the candle-close callback. Must be called before Run.
func (f *Feed) OnOHLCV(fn OHLCVHandler) { f.onOHLCV = fn }

// State returns the feed's current reconnect lifecycle state.
func (f *Feed) State() reconnect.State { return f.life.State() }

// Run drives the feed's connect/read/reconnect loop until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	return f.life.Run(ctx, f.connectAndRead)
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	u, err := url.Parse(f.cfg.WSURL)
	if err != nil {
		return fmt.Errorf("parse ws url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		conn.Close()
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribeAll(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(raw)
	}
}

func (f *Feed) subscribeAll(conn *websocket.Conn) error {
	streams := make([]string, 0, len(f.cfg.Symbols)*(2+len(f.cfg.Intervals)))
	for _, symbol := range f.cfg.Symbols {
		lower := strings.ToLower(symbol)
		streams = append(streams, lower+"@trade", lower+"@depth20@100ms")
		for _, interval := range f.cfg.Intervals {
			streams = append(streams, fmt.Sprintf("%s@kline_%s", lower, interval))
		}
	}

	msg := map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	}
	return conn.WriteJSON(msg)
}

func (f *Feed) handleMessage(raw []byte) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	eventType, _ := msg["e"].(string)
	switch eventType {
	case "trade":
		f.handleTrade(msg)
	case "kline":
		f.handleKline(msg)
	}
}

func (f *Feed) handleTrade(msg map[string]any) {
	symbol, _ := msg["s"].(string)
	priceStr, _ := msg["p"].(string)
	qtyStr, _ := msg["q"].(string)
	isBuyerMaker, _ := msg["m"].(bool)
	eventTimeMs, _ := msg["E"].(float64)

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return
	}

	trade := types.Trade{
		Symbol:       symbol,
		Price:        price,
		Qty:          qty,
		Timestamp:    time.UnixMilli(int64(eventTimeMs)),
		BuyerIsMaker: isBuyerMaker,
	}

	if f.onTrade != nil {
		f.onTrade(f.cfg.Venue, trade)
	}
}

func (f *Feed) handleKline(msg map[string]any) {
	kline, ok := msg["k"].(map[string]any)
	if !ok {
		return
	}

	closed, _ := kline["x"].(bool)
	if !closed {
		return
	}

	symbol, _ := kline["s"].(string)
	interval, _ := kline["i"].(string)
	openStr, _ := kline["o"].(string)
	highStr, _ := kline["h"].(string)
	lowStr, _ := kline["l"].(string)
	closeStr, _ := kline["c"].(string)
	volumeStr, _ := kline["v"].(string)
	closeTimeMs, _ := kline["T"].(float64)

	open, _ := decimal.NewFromString(openStr)
	high, _ := decimal.NewFromString(highStr)
	low, _ := decimal.NewFromString(lowStr)
	closePrice, _ := decimal.NewFromString(closeStr)
	volume, _ := decimal.NewFromString(volumeStr)

	candle := types.OHLCV{
		Timestamp: time.UnixMilli(int64(closeTimeMs)),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}

	if !candle.Valid() {
		f.logger.Warn("rejecting malformed candle", zap.String("symbol", symbol))
		return
	}

	key := symbol + ":" + interval
	f.ohlcvMu.Lock()
	cache := append(f.ohlcvCache[key], candle)
	if len(cache) > 500 {
		cache = cache[len(cache)-500:]
	}
	f.ohlcvCache[key] = cache
	f.ohlcvMu.Unlock()

	if f.onOHLCV != nil {
		f.onOHLCV(f.cfg.Venue, symbol, interval, candle)
	}
}

// RecentOHLCV returns the cached in-memory candle history for symbol/interval.
func (f *Feed) RecentOHLCV(symbol, interval string) []types.OHLCV {
	f.ohlcvMu.RLock()
	defer f.ohlcvMu.RUnlock()

	cached := f.ohlcvCache[symbol+":"+interval]
	out := make([]types.OHLCV, len(cached))
	copy(out, cached)
	return out
}

package phase

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/internal/detection"
	"github.com/titan-scanner/core/internal/stats"
	"github.com/titan-scanner/core/internal/tripwire"
	"github.com/titan-scanner/core/pkg/types"
	"github.com/titan-scanner/core/pkg/utils"
)

const (
	priceWindowCapacity = 50
	cvdWindowCapacity   = 200
)

// symbolTrend tracks the rolling state one symbol needs to produce a
// detection.MarketSnapshot: a short EMA of price for acceleration, a
// buyer/seller volume tally for CVD, and whichever direction most recent
// trades leaned for TrendDir.
type symbolTrend struct {
	mu       sync.Mutex
	fastEMA  *utils.EMA
	slowEMA  *utils.EMA
	buyVol   float64
	sellVol  float64
	seen     int
}

// LiveMarketSource feeds detection.MarketSnapshot from the live trade
// stream: acceleration from the spread between a fast and slow EMA (scaled
// by price), trend strength from how far that spread has diverged as a
// fraction of price, and CVD from a buy/sell volume tally accumulated since
// the source started (it is not limited to a recent window). It is
// the only concrete detection.MarketSource; venue order-book depth and
// open-interest feeds that would sharpen these signals are out of scope
// per the venue-REST-format boundary.
type LiveMarketSource struct {
	priceWindows *stats.Registry

	mu      sync.Mutex
	symbols map[string]*symbolTrend
}

// NewLiveMarketSource builds a market source backed by a fresh stats
// registry for any calculator that wants raw rolling samples.
func NewLiveMarketSource() *LiveMarketSource {
	return &LiveMarketSource{
		priceWindows: stats.NewRegistry(priceWindowCapacity),
		symbols:      make(map[string]*symbolTrend),
	}
}

func (s *LiveMarketSource) trendFor(symbol string) *symbolTrend {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.symbols[symbol]
	if !ok {
		t = &symbolTrend{fastEMA: utils.NewEMA(5), slowEMA: utils.NewEMA(20)}
		s.symbols[symbol] = t
	}
	return t
}

// OnTrade updates the rolling state for trade.Symbol. Wire this as the
// market.Manager trade callback.
func (s *LiveMarketSource) OnTrade(venue string, trade types.Trade) {
	price := trade.Price.InexactFloat64()
	qty := trade.Qty.InexactFloat64()

	s.priceWindows.GetOrCreate(trade.Symbol).Add(price)

	t := s.trendFor(trade.Symbol)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fastEMA.Add(trade.Price)
	t.slowEMA.Add(trade.Price)
	if trade.BuyerIsMaker {
		t.sellVol += qty
	} else {
		t.buyVol += qty
	}
	t.seen++
}

// Snapshot implements detection.MarketSource.
func (s *LiveMarketSource) Snapshot(symbol string) detection.MarketSnapshot {
	t := s.trendFor(symbol)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen < 2 {
		return detection.MarketSnapshot{Valid: false}
	}

	fast := t.fastEMA.Current().InexactFloat64()
	slow := t.slowEMA.Current().InexactFloat64()
	if slow == 0 {
		return detection.MarketSnapshot{Valid: false}
	}

	spread := (fast - slow) / slow
	trendDir := types.DirectionLong
	if spread < 0 {
		trendDir = types.DirectionShort
	}
	// Scale the EMA spread into a 0..100 ADX-like reading; a 2% spread
	// between the fast and slow EMA saturates the indicator.
	trendStrength := spread
	if trendStrength < 0 {
		trendStrength = -trendStrength
	}
	trendStrength = trendStrength / 0.02 * 100
	if trendStrength > 100 {
		trendStrength = 100
	}

	return detection.MarketSnapshot{
		Acceleration:  decimal.NewFromFloat(spread),
		TrendStrength: decimal.NewFromFloat(trendStrength),
		TrendDir:      trendDir,
		CVDDelta:      decimal.NewFromFloat(t.buyVol - t.sellVol),
		Valid:         true,
	}
}

// DerivedInputs implements tripwire.DerivedInputsProvider. Open interest,
// funding rate, and spot/perp spread all come from venue derivatives feeds
// this source does not subscribe to (out of scope per the venue-REST-
// format boundary), so it reports the zero value rather than fabricating a
// reading.
func (s *LiveMarketSource) DerivedInputs(symbol string) tripwire.DerivedInputs {
	return tripwire.DerivedInputs{}
}

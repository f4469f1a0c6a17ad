package detection

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/pkg/types"
)

// shardQueueSize bounds the per-symbol trade queue. Once full, incoming
// ticks that do not match any armed trigger are dropped; a tick within
// arming tolerance of a trigger is never dropped (see Submit).
const shardQueueSize = 2048

// Shard owns the tripwire state for exactly one symbol and processes its
// trades strictly in arrival order. No other goroutine may read or write
// Shard.tripwires while the shard is running; cross-shard observers must
// use Snapshot, which copies under lock.
type Shard struct {
	symbol  string
	logger  *zap.Logger
	cfg     Config
	gates   GateSource
	market  MarketSource
	bus     *events.Bus
	intents IntentSink
	source  string

	trades   chan types.Trade
	snapshot chan chan map[string]types.Tripwire
	update   chan shardUpdate

	tripwires map[string]types.Tripwire
	dropped   uint64
}

// shardUpdate replaces or inserts a tripwire from the pre-computation
// cycle, routed through the trade channel's priority sibling so it is
// applied between trades rather than racing the map.
type shardUpdate struct {
	tripwires map[string]types.Tripwire
	done      chan struct{}
}

// GateSource supplies the current global gate state; implemented by
// whatever owns master-arm/circuit-breaker/ghost-mode configuration.
type GateSource interface {
	Gates() Gates
}

// IntentSink receives a fired signal for delivery over the fast path. The
// event bus only carries a TrapSprung notification for observability; the
// full signal is handed to the sink so it can reach the PREPARE/CONFIRM
// handshake without going through the bus's JSON event payloads.
type IntentSink interface {
	SubmitIntent(signal *types.IntentSignal)
}

// MarketSource supplies the derived per-symbol indicators the veto checks
// need. A shard calls this once per trade before evaluating a CANDIDATE.
type MarketSource interface {
	Snapshot(symbol string) MarketSnapshot
}

// NewShard builds a shard for symbol. Call Run in its own goroutine.
func NewShard(logger *zap.Logger, symbol string, cfg Config, gates GateSource, market MarketSource, bus *events.Bus, intents IntentSink, source string) *Shard {
	return &Shard{
		symbol:    symbol,
		logger:    logger.With(zap.String("symbol", symbol)),
		cfg:       cfg,
		gates:     gates,
		market:    market,
		bus:       bus,
		intents:   intents,
		source:    source,
		trades:    make(chan types.Trade, shardQueueSize),
		snapshot:  make(chan chan map[string]types.Tripwire),
		update:    make(chan shardUpdate),
		tripwires: make(map[string]types.Tripwire),
	}
}

// Submit enqueues trade for processing. It never blocks: on a full queue
// it drops the oldest queued trade that is not within arming tolerance of
// any currently tracked tripwire, and never drops trade itself if trade
// matches one. Reports true if accepted, false if dropped.
func (s *Shard) Submit(trade types.Trade) bool {
	select {
	case s.trades <- trade:
		return true
	default:
	}

	if !s.matchesAnyTripwire(trade) {
		s.dropped++
		return false
	}

	// The queue is full and this trade matters: drop one stale queued
	// trade to make room rather than drop trade itself.
	select {
	case <-s.trades:
	default:
	}
	select {
	case s.trades <- trade:
		return true
	default:
		s.dropped++
		return false
	}
}

func (s *Shard) matchesAnyTripwire(trade types.Trade) bool {
	for _, tw := range s.tripwires {
		if withinArmTolerance(tw.TriggerPrice, trade.Price) {
			return true
		}
	}
	return false
}

// ApplyTripwires installs fresh tripwire state from a pre-computation
// cycle, preserving anything the shard itself is tracking past ARMED. It
// blocks until the update has been applied on the shard's own goroutine.
func (s *Shard) ApplyTripwires(fresh map[string]types.Tripwire) {
	done := make(chan struct{})
	s.update <- shardUpdate{tripwires: fresh, done: done}
	<-done
}

// Snapshot returns a defensive copy of the shard's current tripwire map.
func (s *Shard) Snapshot() map[string]types.Tripwire {
	reply := make(chan map[string]types.Tripwire, 1)
	s.snapshot <- reply
	return <-reply
}

// Run processes trades, tripwire updates, and snapshot requests strictly
// in arrival order until ctx is cancelled.
func (s *Shard) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-s.trades:
			s.handleTrade(trade)
		case upd := <-s.update:
			s.handleUpdate(upd)
		case reply := <-s.snapshot:
			reply <- s.copyTripwires()
		}
	}
}

func (s *Shard) handleUpdate(upd shardUpdate) {
	for key, tw := range s.tripwires {
		if tw.State != types.StateArmed {
			upd.tripwires[key] = tw
		}
	}
	s.tripwires = upd.tripwires
	close(upd.done)
}

func (s *Shard) handleTrade(trade types.Trade) {
	now := time.Now()
	gates := s.gates.Gates()
	market := s.market.Snapshot(s.symbol)

	for key, tw := range s.tripwires {
		next, effects := Transition(tw, trade, now, s.cfg, gates, market, s.source)
		s.tripwires[key] = next
		s.applyEffects(next, effects)
	}
}

func (s *Shard) applyEffects(tw types.Tripwire, effects []Effect) {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectEmitIntent:
			if s.intents != nil {
				s.intents.SubmitIntent(eff.Signal)
			}
			if s.bus != nil {
				s.bus.Publish(events.NewTrapSprungEvent(tw.Symbol, eff.Signal.SignalID))
			}
		case EffectRecordMetric:
			s.logger.Debug("tripwire transition",
				zap.String("metric", eff.Metric),
				zap.String("state", string(tw.State)),
				zap.Uint32("attempts", tw.Attempts),
			)
		}
	}
}

func (s *Shard) copyTripwires() map[string]types.Tripwire {
	out := make(map[string]types.Tripwire, len(s.tripwires))
	for k, v := range s.tripwires {
		out[k] = v
	}
	return out
}

// DroppedCount returns the number of trades dropped by backpressure since
// the shard started. Not goroutine-safe against concurrent Submit calls
// beyond the read being approximate, which is acceptable for a metric.
func (s *Shard) DroppedCount() uint64 {
	return s.dropped
}

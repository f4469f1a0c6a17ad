package detection

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/pkg/types"
)

// Manager owns one Shard per symbol and routes each incoming trade to the
// shard that owns its symbol. It is the only component that creates or
// removes shards; once a shard exists it keeps exclusive ownership of
// that symbol's tripwire state for the manager's lifetime.
type Manager struct {
	logger  *zap.Logger
	cfg     Config
	gates   GateSource
	market  MarketSource
	bus     *events.Bus
	intents IntentSink
	source  string

	mu     sync.RWMutex
	shards map[string]*Shard
	cancel map[string]context.CancelFunc
}

// NewManager builds a Manager; shards are created lazily on first Dispatch
// or explicitly via EnsureShard.
func NewManager(logger *zap.Logger, cfg Config, gates GateSource, market MarketSource, bus *events.Bus, intents IntentSink, source string) *Manager {
	return &Manager{
		logger:  logger.Named("detection-manager"),
		cfg:     cfg,
		gates:   gates,
		market:  market,
		bus:     bus,
		intents: intents,
		source:  source,
		shards:  make(map[string]*Shard),
		cancel:  make(map[string]context.CancelFunc),
	}
}

// EnsureShard starts a shard for symbol if one does not already exist.
func (m *Manager) EnsureShard(ctx context.Context, symbol string) *Shard {
	m.mu.Lock()
	defer m.mu.Unlock()

	if shard, ok := m.shards[symbol]; ok {
		return shard
	}

	shardCtx, cancel := context.WithCancel(ctx)
	shard := NewShard(m.logger, symbol, m.cfg, m.gates, m.market, m.bus, m.intents, m.source)
	m.shards[symbol] = shard
	m.cancel[symbol] = cancel
	go m.runShard(shardCtx, shard, symbol)

	m.logger.Info("detection shard started", zap.String("symbol", symbol))
	return shard
}

// runShard runs one shard's loop under a panics.Catcher so a single
// symbol's shard panicking logs and dies instead of taking the rest of
// the process's shards down with it.
func (m *Manager) runShard(ctx context.Context, shard *Shard, symbol string) {
	var catcher panics.Catcher
	catcher.Try(func() { shard.Run(ctx) })
	if recovered := catcher.Recovered(); recovered != nil {
		m.logger.Error("detection shard panicked",
			zap.String("symbol", symbol),
			zap.Error(recovered.AsError()),
		)
	}
}

// Dispatch routes trade to its symbol's shard, starting one if needed.
// Backpressure (drop-oldest-non-matching) is handled entirely inside the
// shard; Dispatch never blocks.
func (m *Manager) Dispatch(ctx context.Context, trade types.Trade) bool {
	shard := m.EnsureShard(ctx, trade.Symbol)
	return shard.Submit(trade)
}

// ApplyTripwires pushes a pre-computation cycle's output to the shard that
// owns each tripwire's symbol, grouping by symbol first so each shard sees
// one update call.
func (m *Manager) ApplyTripwires(ctx context.Context, tripwires map[string]types.Tripwire) {
	bySymbol := make(map[string]map[string]types.Tripwire)
	for key, tw := range tripwires {
		group, ok := bySymbol[tw.Symbol]
		if !ok {
			group = make(map[string]types.Tripwire)
			bySymbol[tw.Symbol] = group
		}
		group[key] = tw
	}

	for symbol, group := range bySymbol {
		shard := m.EnsureShard(ctx, symbol)
		shard.ApplyTripwires(group)
	}
}

// Shards returns the currently tracked symbols.
func (m *Manager) Shards() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.shards))
	for symbol := range m.shards {
		out = append(out, symbol)
	}
	return out
}

// Snapshot aggregates every shard's tripwire map into one.
func (m *Manager) Snapshot() map[string]types.Tripwire {
	m.mu.RLock()
	shards := make([]*Shard, 0, len(m.shards))
	for _, shard := range m.shards {
		shards = append(shards, shard)
	}
	m.mu.RUnlock()

	out := make(map[string]types.Tripwire)
	for _, shard := range shards {
		for key, tw := range shard.Snapshot() {
			out[key] = tw
		}
	}
	return out
}

// Stop cancels every shard's run loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.cancel {
		cancel()
	}
}

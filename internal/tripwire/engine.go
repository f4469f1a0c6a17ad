package tripwire

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/data"
	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/internal/workers"
	"github.com/titan-scanner/core/pkg/types"
)

// DerivedInputsProvider supplies the event-driven calculators' non-candle
// inputs (open interest, funding rate, spot/perp spread), sourced from the
// market feed adapters rather than from the OHLCV store.
type DerivedInputsProvider interface {
	DerivedInputs(symbol string) DerivedInputs
}

// Config tunes one Engine's pre-computation cycle.
type Config struct {
	Symbols        []string
	Timeframe      types.Timeframe
	Lookback       time.Duration
	UpdateInterval time.Duration // default 60s per the pre-computation cycle
	TopN           int           // default 20
	ATRWindow      int
	Weights        RankWeights
}

// DefaultConfig returns the spec's stated defaults: a 60s cycle and a
// top-20 watchlist.
func DefaultConfig(symbols []string) Config {
	return Config{
		Symbols:        symbols,
		Timeframe:      types.Timeframe1m,
		Lookback:       24 * time.Hour,
		UpdateInterval: 60 * time.Second,
		TopN:           20,
		ATRWindow:      14,
		Weights:        DefaultRankWeights(),
	}
}

// Engine runs the periodic pre-computation cycle on its own worker,
// refreshing the ranked top-N watchlist and keeping it consistent across
// cycles: ARMED tripwires are replaced by freshly re-derived candidates,
// while tripwires already past ARMED (owned by the detection engine) are
// left untouched until they resolve.
type Engine struct {
	logger      *zap.Logger
	cfg         Config
	store       *data.Store
	validator   *data.DataQualityValidator
	bus         *events.Bus
	derived     DerivedInputsProvider
	pool        *workers.Pool
	calculators []Calculator

	mu        sync.RWMutex
	tripwires map[string]types.Tripwire
}

// New constructs an Engine with the standard calculator set (liquidation,
// daily level, Bollinger, event-driven, structural); ULTIMATE_BULGARIA
// confluence tripwires are synthesized by MergeAndRank, not a standalone
// calculator.
func New(logger *zap.Logger, cfg Config, store *data.Store, bus *events.Bus, derived DerivedInputsProvider, pool *workers.Pool) *Engine {
	return NewWithCalculators(logger, cfg, store, bus, derived, pool, []Calculator{
		NewLiquidationCalculator(),
		NewDailyLevelCalculator(),
		NewBollingerCalculator(),
		NewEventDrivenCalculator(),
		NewStructuralCalculator(),
	})
}

// NewWithCalculators builds an Engine restricted to calculators, letting a
// phase bind its own slice of the tripwire families (e.g. Scavenger's
// liquidation/daily-level/bollinger/event-driven set versus Hunter's
// structural-only set).
func NewWithCalculators(logger *zap.Logger, cfg Config, store *data.Store, bus *events.Bus, derived DerivedInputsProvider, pool *workers.Pool, calculators []Calculator) *Engine {
	return &Engine{
		logger:      logger.Named("tripwire"),
		cfg:         cfg,
		store:       store,
		validator:   data.NewDataQualityValidator(logger),
		bus:         bus,
		derived:     derived,
		pool:        pool,
		calculators: calculators,
		tripwires:   make(map[string]types.Tripwire),
	}
}

// Run blocks, executing one cycle immediately and then every
// UpdateInterval, until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.UpdateInterval)
	defer ticker.Stop()

	e.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// Snapshot returns a copy of the currently held tripwire map.
func (e *Engine) Snapshot() map[string]types.Tripwire {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]types.Tripwire, len(e.tripwires))
	for k, v := range e.tripwires {
		out[k] = v
	}
	return out
}

func (e *Engine) runCycle(ctx context.Context) {
	now := time.Now()
	type symbolResult struct {
		symbol     string
		raw        []types.Tripwire
		meanVolume decimal.Decimal
	}

	results := make(chan symbolResult, len(e.cfg.Symbols))
	var wg sync.WaitGroup

	for _, symbol := range e.cfg.Symbols {
		symbol := symbol
		wg.Add(1)
		task := workers.TaskFunc(func() error {
			defer wg.Done()
			raw, meanVol := e.computeSymbol(ctx, symbol, now)
			results <- symbolResult{symbol: symbol, raw: raw, meanVolume: meanVol}
			return nil
		})
		if e.pool != nil {
			if err := e.pool.Submit(task); err != nil {
				e.logger.Warn("worker pool rejected tripwire task", zap.String("symbol", symbol), zap.Error(err))
				wg.Done()
				results <- symbolResult{symbol: symbol}
			}
		} else {
			go func() { _ = task.Execute() }()
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var raw []types.Tripwire
	meanVolumes := make(map[string]decimal.Decimal, len(e.cfg.Symbols))
	for r := range results {
		raw = append(raw, r.raw...)
		meanVolumes[r.symbol] = r.meanVolume
	}

	ranked := MergeAndRank(raw, volumeRanks(meanVolumes), e.cfg.Weights, e.cfg.TopN, now)
	e.reconcile(ranked)

	if e.bus != nil {
		snapshot := e.Snapshot()
		symbols := make([]string, 0, len(snapshot))
		seen := make(map[string]bool, len(snapshot))
		for _, tw := range snapshot {
			if !seen[tw.Symbol] {
				seen[tw.Symbol] = true
				symbols = append(symbols, tw.Symbol)
			}
		}
		e.bus.Publish(events.NewTrapMapUpdatedEvent(symbols, len(snapshot)))
	}
}

func (e *Engine) computeSymbol(ctx context.Context, symbol string, now time.Time) ([]types.Tripwire, decimal.Decimal) {
	candles, err := e.store.LoadOHLCV(ctx, symbol, e.cfg.Timeframe, now.Add(-e.cfg.Lookback), now)
	if err != nil {
		e.logger.Warn("load OHLCV failed", zap.String("symbol", symbol), zap.Error(err))
		return nil, decimal.Zero
	}
	report := e.validator.Validate(candles, symbol)
	if !report.IsUsable {
		if e.bus != nil {
			e.bus.Publish(events.NewErrorNotice("tripwire", "data quality rejected "+symbol))
		}
		return nil, decimal.Zero
	}
	cleaned := e.validator.CleanData(candles)

	var derived DerivedInputs
	if e.derived != nil {
		derived = e.derived.DerivedInputs(symbol)
	}

	in := Input{Symbol: symbol, Candles: cleaned, Derived: derived, Now: now}
	vol := ComputeVolatility(cleaned, e.cfg.ATRWindow)

	var out []types.Tripwire
	for _, calc := range e.calculators {
		produced, err := calc.Compute(in)
		if err != nil {
			e.logger.Warn("calculator rejected symbol", zap.String("symbol", symbol), zap.String("calculator", calc.Name()), zap.Error(err))
			if e.bus != nil {
				e.bus.Publish(events.NewErrorNotice("tripwire", err.Error()))
			}
			return nil, decimal.Zero
		}
		for i := range produced {
			produced[i].Volatility = vol
		}
		out = append(out, produced...)
	}
	return out, vol.MeanVolume
}

// volumeRanks normalizes mean volumes to [0,1] by linear scaling between
// the cycle's minimum and maximum, feeding the w_vol*volume_rank term of
// the ranking score.
func volumeRanks(meanVolumes map[string]decimal.Decimal) map[string]decimal.Decimal {
	ranks := make(map[string]decimal.Decimal, len(meanVolumes))
	if len(meanVolumes) == 0 {
		return ranks
	}
	min, max := decimal.Decimal{}, decimal.Decimal{}
	first := true
	for _, v := range meanVolumes {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v.LessThan(min) {
			min = v
		}
		if v.GreaterThan(max) {
			max = v
		}
	}
	span := max.Sub(min)
	for symbol, v := range meanVolumes {
		if span.IsZero() {
			ranks[symbol] = decimal.NewFromInt(1)
			continue
		}
		ranks[symbol] = v.Sub(min).Div(span)
	}
	return ranks
}

// reconcile replaces ARMED tripwires with their freshly re-derived
// counterpart and drops ARMED tripwires that fell out of the new top-N,
// while leaving any tripwire past ARMED untouched — it is owned by the
// detection engine until it resolves to a terminal state.
func (e *Engine) reconcile(ranked []types.Tripwire) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]types.Tripwire, len(ranked))
	for _, tw := range ranked {
		fresh[tw.Key()] = tw
	}

	for key, existing := range e.tripwires {
		if existing.State != types.StateArmed {
			fresh[key] = existing
		}
	}
	e.tripwires = fresh
}

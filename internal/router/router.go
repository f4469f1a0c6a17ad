// Package router implements the execution router and venue fan-out
// described in spec.md §4.4: resolve venues for an IntentSignal, split its
// size across them, gate the whole thing on master-arm/circuit-breaker/
// expiry, and isolate per-venue failures from their siblings. The router
// does not validate an intent's schema and has no dead-letter path.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/pkg/types"
	"github.com/titan-scanner/core/pkg/utils"
)

// FanoutRule is one entry in per-source venue routing configuration.
type FanoutRule struct {
	Fanout  bool               `json:"fanout"`
	Weights map[string]float64 `json:"weights"`
}

// FanoutTarget is one resolved (venue, weight) pair before size splitting.
type FanoutTarget struct {
	Venue  string
	Weight float64
}

// defaultSourceRules is the §4.4 step-3 fallback when no per-source rule is
// configured for signal.source.
var defaultSourceRules = map[string]FanoutRule{
	"scavenger": {Fanout: true, Weights: map[string]float64{"bybit": 0.5, "mexc": 0.5}},
	"hunter":    {Fanout: false, Weights: map[string]float64{"binance": 1}},
	"sentinel":  {Fanout: false, Weights: map[string]float64{"binance": 1}},
}

// GateError reports why a signal was refused routing instead of being sent.
type GateError struct {
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("EXECUTION_GATED(%s)", e.Reason)
}

// Gates holds the same master-arm/circuit-breaker switches the detection
// engine checks, read here independently so a signal can be gated even if
// it reaches the router after the engine's own gate check passed.
type Gates struct {
	MasterArmDisabled bool
	CircuitBreaker    bool
}

// Config supplies per-source routing rules and the lot size used to round
// child order quantities.
type Config struct {
	PerSourceRules map[string]FanoutRule
	LotSize        decimal.Decimal
	VenueTimeout   time.Duration
	IntentTTL      time.Duration
}

// DefaultConfig returns the spec's stated default mapping and timeouts.
func DefaultConfig() Config {
	return Config{
		PerSourceRules: map[string]FanoutRule{},
		LotSize:        decimal.NewFromFloat(0.001),
		VenueTimeout:   2 * time.Second,
		IntentTTL:      2 * time.Second,
	}
}

// VenueAdapter places one child order on a venue and isolates its own
// timeout from its siblings.
type VenueAdapter interface {
	Venue() string
	PlaceOrder(ctx context.Context, intent types.OrderIntent) (OrderResult, error)
}

// OrderResult is a venue's outcome for one child order.
type OrderResult struct {
	Venue         string
	ClientOrderID string
	Filled        bool
	FillPrice     decimal.Decimal
	Reason        string
}

// Router resolves, splits, and dispatches an IntentSignal across venues.
type Router struct {
	logger   *zap.Logger
	cfg      Config
	gates    Gates
	adapters map[string]VenueAdapter
}

// New builds a Router over the given venue adapters, keyed by Venue().
func New(logger *zap.Logger, cfg Config, adapters []VenueAdapter) *Router {
	byVenue := make(map[string]VenueAdapter, len(adapters))
	for _, a := range adapters {
		byVenue[a.Venue()] = a
	}
	return &Router{logger: logger.Named("router"), cfg: cfg, adapters: byVenue}
}

// SetGates updates the router's view of the global gates.
func (r *Router) SetGates(g Gates) {
	r.gates = g
}

// Route resolves venues for signal, splits its size, places every child
// order concurrently, and returns once all have settled (or timed out
// individually — a per-venue timeout never cancels its siblings).
func (r *Router) Route(ctx context.Context, signal *types.IntentSignal, venue string) ([]OrderResult, error) {
	if err := r.checkGates(signal); err != nil {
		return nil, err
	}

	targets := Resolve(signal.Source, venue, r.cfg.PerSourceRules)
	intents := Split(signal, targets, r.cfg.LotSize)

	results := make([]OrderResult, len(intents))
	errs := make([]error, len(intents))
	var wg sync.WaitGroup
	for i, intent := range intents {
		wg.Add(1)
		go func(i int, intent types.OrderIntent) {
			defer wg.Done()
			// A per-venue timeout inside placeOne bounds this goroutine
			// without cancelling its siblings.
			results[i], errs[i] = r.placeOne(ctx, intent)
		}(i, intent)
	}
	wg.Wait()

	// Siblings' failures never cancel each other's placement, but they are
	// still worth surfacing together rather than one venue's error
	// silently shadowing the rest.
	if combined := multierr.Combine(errs...); combined != nil {
		r.logger.Warn("one or more venue placements failed", zap.Error(combined))
	}
	return results, nil
}

func (r *Router) placeOne(ctx context.Context, intent types.OrderIntent) (OrderResult, error) {
	adapter, ok := r.adapters[intent.Venue]
	if !ok {
		return OrderResult{Venue: intent.Venue, ClientOrderID: intent.ClientOrderID, Reason: "unknown_venue"}, nil
	}

	venueCtx, cancel := context.WithTimeout(ctx, r.cfg.VenueTimeout)
	defer cancel()

	result, err := adapter.PlaceOrder(venueCtx, intent)
	if err != nil {
		return OrderResult{Venue: intent.Venue, ClientOrderID: intent.ClientOrderID, Reason: "ORDER_TIMEOUT"},
			fmt.Errorf("%s: %s: %w", intent.Venue, intent.ClientOrderID, err)
	}
	return result, nil
}

func (r *Router) checkGates(signal *types.IntentSignal) error {
	if r.gates.MasterArmDisabled {
		return &GateError{Reason: "master_arm"}
	}
	if r.gates.CircuitBreaker {
		return &GateError{Reason: "circuit_breaker"}
	}
	if r.cfg.IntentTTL > 0 && time.Now().After(signal.Timestamp.Add(r.cfg.IntentTTL)) {
		return &GateError{Reason: "expired"}
	}
	return nil
}

// Resolve implements §4.4's three-step venue resolution.
func Resolve(source, explicitVenue string, perSourceRules map[string]FanoutRule) []FanoutTarget {
	if explicitVenue != "" {
		return []FanoutTarget{{Venue: explicitVenue, Weight: 1}}
	}

	rule, ok := perSourceRules[source]
	if !ok {
		rule, ok = defaultSourceRules[source]
	}
	if !ok {
		rule = FanoutRule{Fanout: false, Weights: map[string]float64{"binance": 1}}
	}

	if !rule.Fanout {
		return []FanoutTarget{singleTarget(rule.Weights)}
	}

	targets := make([]FanoutTarget, 0, len(rule.Weights))
	for venue, weight := range rule.Weights {
		targets = append(targets, FanoutTarget{Venue: venue, Weight: weight})
	}
	return targets
}

// singleTarget picks the highest-weighted venue out of weights, breaking
// ties alphabetically for determinism — the testable property that
// fanout=false always produces exactly one child must hold regardless of
// how many entries an operator leaves configured in weights.
func singleTarget(weights map[string]float64) FanoutTarget {
	best := FanoutTarget{Weight: -1}
	for venue, weight := range weights {
		if weight > best.Weight || (weight == best.Weight && venue < best.Venue) {
			best = FanoutTarget{Venue: venue, Weight: weight}
		}
	}
	best.Weight = 1
	return best
}

// Split normalizes targets' weights, rounds each child's quantity to
// lotSize, and adjusts the largest share by the residual so child
// quantities sum to signal.Size within one lot.
func Split(signal *types.IntentSignal, targets []FanoutTarget, lotSize decimal.Decimal) []types.OrderIntent {
	if len(targets) == 0 {
		return nil
	}

	totalWeight := 0.0
	for _, t := range targets {
		totalWeight += t.Weight
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	intents := make([]types.OrderIntent, len(targets))
	qtys := make([]decimal.Decimal, len(targets))
	sum := decimal.Zero
	largest := 0

	for i, target := range targets {
		normalized := target.Weight / totalWeight
		qty := roundToLot(signal.Size.Mul(decimal.NewFromFloat(normalized)), lotSize)
		qtys[i] = qty
		sum = sum.Add(qty)
		if qty.GreaterThan(qtys[largest]) {
			largest = i
		}
	}

	residual := signal.Size.Sub(sum)
	if !residual.IsZero() {
		qtys[largest] = qtys[largest].Add(residual)
	}

	side := types.OrderSideBuy
	if signal.Direction == types.DirectionShort {
		side = types.OrderSideSell
	}

	for i, target := range targets {
		intents[i] = types.OrderIntent{
			ClientOrderID:  utils.GenerateClientOrderID() + "-" + target.Venue + fmt.Sprintf("-%d", i),
			ParentSignalID: signal.SignalID,
			Venue:          target.Venue,
			Symbol:         signal.Symbol,
			Side:           side,
			Type:           types.OrderTypeMarket,
			Qty:            qtys[i],
			Leverage:       signal.Leverage,
			TimeInForce:    types.TimeInForceIOC,
		}
	}
	return intents
}

func roundToLot(qty, lotSize decimal.Decimal) decimal.Decimal {
	if lotSize.IsZero() {
		return qty
	}
	lots := qty.Div(lotSize).Round(0)
	return lots.Mul(lotSize)
}

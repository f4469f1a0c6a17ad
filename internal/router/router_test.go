package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/router"
	"github.com/titan-scanner/core/pkg/types"
)

func TestResolveExplicitVenueRoutesFully(t *testing.T) {
	targets := router.Resolve("scavenger", "okx", nil)
	require.Equal(t, []router.FanoutTarget{{Venue: "okx", Weight: 1}}, targets)
}

func TestResolveDefaultSourceMapping(t *testing.T) {
	targets := router.Resolve("scavenger", "", nil)
	venues := make(map[string]float64)
	for _, tgt := range targets {
		venues[tgt.Venue] = tgt.Weight
	}
	require.Equal(t, map[string]float64{"bybit": 0.5, "mexc": 0.5}, venues)
}

func TestResolvePerSourceRuleOverridesDefault(t *testing.T) {
	rules := map[string]router.FanoutRule{
		"scavenger": {Fanout: true, Weights: map[string]float64{"okx": 1}},
	}
	targets := router.Resolve("scavenger", "", rules)
	require.Equal(t, []router.FanoutTarget{{Venue: "okx", Weight: 1}}, targets)
}

func TestResolveFanoutFalseProducesExactlyOneTargetRegardlessOfWeightsCardinality(t *testing.T) {
	rules := map[string]router.FanoutRule{
		"scavenger": {Fanout: false, Weights: map[string]float64{"bybit": 0.5, "mexc": 0.3, "okx": 0.2}},
	}
	targets := router.Resolve("scavenger", "", rules)

	require.Len(t, targets, 1)
	require.Equal(t, "bybit", targets[0].Venue)
	require.Equal(t, 1.0, targets[0].Weight)
}

func TestSplitNormalizesAndRoundsToLotWithResidualOnLargest(t *testing.T) {
	signal := &types.IntentSignal{SignalID: "sig-1", Symbol: "BTCUSDT", Direction: types.DirectionLong, Size: decimal.NewFromFloat(0.10)}
	targets := []router.FanoutTarget{{Venue: "bybit", Weight: 0.5}, {Venue: "mexc", Weight: 0.5}}

	intents := router.Split(signal, targets, decimal.NewFromFloat(0.001))
	require.Len(t, intents, 2)

	sum := decimal.Zero
	for _, intent := range intents {
		sum = sum.Add(intent.Qty)
	}
	require.True(t, sum.Equal(decimal.NewFromFloat(0.10)))
}

func TestSplitSingleTargetGetsFullSize(t *testing.T) {
	signal := &types.IntentSignal{SignalID: "sig-1", Symbol: "BTCUSDT", Direction: types.DirectionShort, Size: decimal.NewFromFloat(1)}
	intents := router.Split(signal, []router.FanoutTarget{{Venue: "binance", Weight: 1}}, decimal.NewFromFloat(0.001))

	require.Len(t, intents, 1)
	require.True(t, intents[0].Qty.Equal(decimal.NewFromFloat(1)))
	require.Equal(t, types.OrderSideSell, intents[0].Side)
}

func TestRouteGatedByMasterArm(t *testing.T) {
	r := router.New(zap.NewNop(), router.DefaultConfig(), nil)
	r.SetGates(router.Gates{MasterArmDisabled: true})

	signal := &types.IntentSignal{SignalID: "s", Symbol: "BTCUSDT", Size: decimal.NewFromInt(1), Timestamp: time.Now()}
	_, err := r.Route(context.Background(), signal, "")

	var gateErr *router.GateError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, "master_arm", gateErr.Reason)
}

func TestRouteGatedByExpiry(t *testing.T) {
	cfg := router.DefaultConfig()
	cfg.IntentTTL = time.Millisecond
	r := router.New(zap.NewNop(), cfg, nil)

	signal := &types.IntentSignal{SignalID: "s", Symbol: "BTCUSDT", Size: decimal.NewFromInt(1), Timestamp: time.Now().Add(-time.Hour)}
	_, err := r.Route(context.Background(), signal, "")

	var gateErr *router.GateError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, "expired", gateErr.Reason)
}

type fixedMarks map[string]decimal.Decimal

func (m fixedMarks) Mark(symbol string) decimal.Decimal { return m[symbol] }

func TestRouteDispatchesToPaperAdapter(t *testing.T) {
	paper := router.NewPaperAdapter("bybit", zap.NewNop(), fixedMarks{"BTCUSDT": decimal.NewFromInt(50000)}, decimal.Zero)

	cfg := router.DefaultConfig()
	cfg.PerSourceRules = map[string]router.FanoutRule{
		"scavenger": {Fanout: false, Weights: map[string]float64{"bybit": 1}},
	}
	r := router.New(zap.NewNop(), cfg, []router.VenueAdapter{paper})

	signal := &types.IntentSignal{SignalID: "s", Source: "scavenger", Symbol: "BTCUSDT", Direction: types.DirectionLong, Size: decimal.NewFromFloat(0.1), Timestamp: time.Now()}
	results, err := r.Route(context.Background(), signal, "")

	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Filled)
	require.True(t, results[0].FillPrice.Equal(decimal.NewFromInt(50000)))
}

func TestRouteUnknownVenueDoesNotBlockSiblings(t *testing.T) {
	paper := router.NewPaperAdapter("bybit", zap.NewNop(), fixedMarks{"BTCUSDT": decimal.NewFromInt(50000)}, decimal.Zero)
	cfg := router.DefaultConfig()
	cfg.PerSourceRules = map[string]router.FanoutRule{
		"scavenger": {Fanout: true, Weights: map[string]float64{"bybit": 0.5, "ghostvenue": 0.5}},
	}
	r := router.New(zap.NewNop(), cfg, []router.VenueAdapter{paper})

	signal := &types.IntentSignal{SignalID: "s", Source: "scavenger", Symbol: "BTCUSDT", Direction: types.DirectionLong, Size: decimal.NewFromFloat(0.1), Timestamp: time.Now()}
	results, err := r.Route(context.Background(), signal, "")

	require.NoError(t, err)
	require.Len(t, results, 2)

	var sawUnknown, sawFilled bool
	for _, res := range results {
		if res.Reason == "unknown_venue" {
			sawUnknown = true
		}
		if res.Filled {
			sawFilled = true
		}
	}
	require.True(t, sawUnknown)
	require.True(t, sawFilled)
}

package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/detection"
	"github.com/titan-scanner/core/internal/ipc"
	"github.com/titan-scanner/core/internal/router"
	"github.com/titan-scanner/core/pkg/types"
)

// recordingAdapter captures every intent it is asked to place, so a test can
// inspect the Qty the router actually sent downstream rather than the
// result of an isolated Resolve/Split call.
type recordingAdapter struct {
	venue   string
	placed  []types.OrderIntent
	markets fixedMarks
}

func (r *recordingAdapter) Venue() string { return r.venue }

func (r *recordingAdapter) PlaceOrder(ctx context.Context, intent types.OrderIntent) (router.OrderResult, error) {
	r.placed = append(r.placed, intent)
	return router.OrderResult{Venue: r.venue, ClientOrderID: intent.ClientOrderID, Filled: true, FillPrice: r.markets[intent.Symbol]}, nil
}

// TestFiredTripwireProducesNonZeroOrderIntentQty exercises the real
// production path end to end: a CANDIDATE tripwire that activates on this
// trade builds its IntentSignal through detection.Transition exactly as
// shard.go would, and that signal is carried through Handler.Prepare/
// Confirm into Router.Route -> Split, the same call chain
// internal/phase.IntentDispatcher drives over the wire. It asserts the
// sizing gap is fixed: a parent signal with a real, non-zero Size reaches
// every child OrderIntent.Qty, split across the scavenger default fan-out.
func TestFiredTripwireProducesNonZeroOrderIntentQty(t *testing.T) {
	tw := types.Tripwire{
		Symbol:       "BTCUSDT",
		TriggerPrice: decimal.NewFromInt(50000),
		Direction:    types.DirectionLong,
		Type:         types.TripwireLiquidation,
		Confidence:   decimal.NewFromInt(95),
		Leverage:     20,
		StopLossPct:  decimal.NewFromFloat(0.01),
		TargetPct:    decimal.NewFromFloat(0.03),
		State:        types.StateCandidate,
		CreatedAt:    time.Now(),
	}
	start := time.Now()
	tw.VolumeCounter = types.VolumeCounter{WindowStart: start, Count: 49}

	cfg := detection.DefaultConfig()
	market := detection.MarketSnapshot{Valid: true, TrendDir: types.DirectionLong, CVDDelta: decimal.NewFromInt(1)}
	trade := types.Trade{Symbol: "BTCUSDT", Price: decimal.NewFromInt(50000), Timestamp: start.Add(time.Millisecond)}

	_, effects := detection.Transition(tw, trade, trade.Timestamp, cfg, detection.Gates{}, market, "scavenger")

	var signal *types.IntentSignal
	for _, e := range effects {
		if e.Kind == detection.EffectEmitIntent {
			signal = e.Signal
		}
	}
	require.NotNil(t, signal, "expected an emit_intent effect")
	require.True(t, signal.Size.IsPositive(), "buildIntentSignal must size a non-zero quantity from confidence/stop/target")
	require.Len(t, signal.TakeProfits, 1)
	require.True(t, signal.TakeProfits[0].GreaterThan(tw.TriggerPrice), "LONG take-profit must sit above the trigger price")

	bybit := &recordingAdapter{venue: "bybit", markets: fixedMarks{"BTCUSDT": decimal.NewFromInt(50000)}}
	mexc := &recordingAdapter{venue: "mexc", markets: fixedMarks{"BTCUSDT": decimal.NewFromInt(50000)}}
	r := router.New(zap.NewNop(), router.DefaultConfig(), []router.VenueAdapter{bybit, mexc})
	handler := router.NewHandler(zap.NewNop(), r, time.Minute)

	prepResp, err := handler.Prepare(context.Background(), &ipc.PreparePayload{Signal: signal})
	require.NoError(t, err)
	require.True(t, prepResp.Prepared)

	confirmResp, err := handler.Confirm(context.Background(), signal.SignalID)
	require.NoError(t, err)
	require.True(t, confirmResp.Executed)

	var placed []types.OrderIntent
	placed = append(placed, bybit.placed...)
	placed = append(placed, mexc.placed...)
	require.Len(t, placed, 2, "scavenger's default fan-out splits across bybit and mexc")

	sum := decimal.Zero
	for _, intent := range placed {
		require.True(t, intent.Qty.IsPositive(), "every child order must carry a non-zero Qty")
		sum = sum.Add(intent.Qty)
	}
	require.True(t, sum.Equal(signal.Size), "child quantities must sum back to the parent signal's Size")
}

package tripwire_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/tripwire"
	"github.com/titan-scanner/core/pkg/types"
)

func tw(symbol string, price int64, dir types.Direction, kind types.TripwireType, confidence int64, createdAt time.Time) types.Tripwire {
	return types.Tripwire{
		Symbol:       symbol,
		TriggerPrice: decimal.NewFromInt(price),
		Direction:    dir,
		Type:         kind,
		Confidence:   decimal.NewFromInt(confidence),
		Leverage:     10,
		StopLossPct:  decimal.NewFromFloat(0.01),
		TargetPct:    decimal.NewFromFloat(0.03),
		State:        types.StateArmed,
		CreatedAt:    createdAt,
	}
}

func TestMergeAndRankMergesColocatedTripwires(t *testing.T) {
	now := time.Now()
	raw := []types.Tripwire{
		tw("BTCUSDT", 50000, types.DirectionLong, types.TripwireDailyLevel, 85, now),
		tw("BTCUSDT", 50010, types.DirectionLong, types.TripwireBollinger, 90, now.Add(time.Second)),
	}

	out := tripwire.MergeAndRank(raw, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromFloat(0.5)}, tripwire.DefaultRankWeights(), 20, now)
	require.Len(t, out, 1)
	require.Equal(t, decimal.NewFromInt(90), out[0].Confidence)
}

func TestMergeAndRankSynthesizesConfluence(t *testing.T) {
	now := time.Now()
	raw := []types.Tripwire{
		tw("BTCUSDT", 50000, types.DirectionLong, types.TripwireDailyLevel, 85, now),
		tw("BTCUSDT", 50000, types.DirectionLong, types.TripwireBollinger, 90, now),
		tw("BTCUSDT", 50000, types.DirectionLong, types.TripwireLiquidation, 95, now),
	}

	out := tripwire.MergeAndRank(raw, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromFloat(0.5)}, tripwire.DefaultRankWeights(), 20, now)

	found := false
	for _, t2 := range out {
		if t2.Type == types.TripwireUltimateBulgaria {
			found = true
			require.True(t, t2.Confidence.GreaterThanOrEqual(decimal.NewFromInt(95)))
		}
	}
	require.True(t, found)
}

func TestMergeAndRankRespectsTopN(t *testing.T) {
	now := time.Now()
	var raw []types.Tripwire
	for i := 0; i < 5; i++ {
		raw = append(raw, tw("SYM", int64(1000+i*100), types.DirectionLong, types.TripwireDailyLevel, int64(50+i), now))
	}

	out := tripwire.MergeAndRank(raw, map[string]decimal.Decimal{"SYM": decimal.NewFromFloat(0.5)}, tripwire.DefaultRankWeights(), 2, now)
	require.Len(t, out, 2)
}

func TestMergeAndRankTieBreaksBySymbol(t *testing.T) {
	now := time.Now()
	raw := []types.Tripwire{
		tw("ZETA", 100, types.DirectionLong, types.TripwireDailyLevel, 80, now),
		tw("ALPHA", 200, types.DirectionLong, types.TripwireDailyLevel, 80, now),
	}
	vr := map[string]decimal.Decimal{"ZETA": decimal.NewFromFloat(0.5), "ALPHA": decimal.NewFromFloat(0.5)}

	out := tripwire.MergeAndRank(raw, vr, tripwire.DefaultRankWeights(), 20, now)
	require.Len(t, out, 2)
	require.Equal(t, "ALPHA", out[0].Symbol)
}

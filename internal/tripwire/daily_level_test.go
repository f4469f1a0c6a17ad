package tripwire_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/tripwire"
	"github.com/titan-scanner/core/pkg/types"
)

func TestDailyLevelCalculatorFindsPrevDayHighLow(t *testing.T) {
	c := tripwire.NewDailyLevelCalculator()
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	candles := []*types.OHLCV{
		{Timestamp: yesterday.Add(1 * time.Hour), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(110), Low: decimal.NewFromInt(95), Close: decimal.NewFromInt(105)},
		{Timestamp: yesterday.Add(2 * time.Hour), Open: decimal.NewFromInt(105), High: decimal.NewFromInt(120), Low: decimal.NewFromInt(90), Close: decimal.NewFromInt(100)},
		{Timestamp: now, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100)},
	}

	out, err := c.Compute(tripwire.Input{Symbol: "ETHUSDT", Candles: candles, Now: now})
	require.NoError(t, err)
	require.Len(t, out, 2)

	var long, short types.Tripwire
	for _, tw := range out {
		if tw.Direction == types.DirectionLong {
			long = tw
		} else {
			short = tw
		}
	}
	require.True(t, long.TriggerPrice.Equal(decimal.NewFromInt(120)))
	require.True(t, short.TriggerPrice.Equal(decimal.NewFromInt(90)))
	require.Equal(t, types.TripwireDailyLevel, long.Type)
}

func TestDailyLevelCalculatorNoPriorDayData(t *testing.T) {
	c := tripwire.NewDailyLevelCalculator()
	now := time.Now()
	candles := []*types.OHLCV{
		{Timestamp: now, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100)},
	}

	out, err := c.Compute(tripwire.Input{Symbol: "ETHUSDT", Candles: candles, Now: now})
	require.NoError(t, err)
	require.Empty(t, out)
}

package tripwire_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/tripwire"
	"github.com/titan-scanner/core/pkg/types"
)

func TestStructuralCalculatorDetectsFVG(t *testing.T) {
	c := tripwire.NewStructuralCalculator()
	now := time.Now()

	candles := []*types.OHLCV{
		{Timestamp: now, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(102), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(101)},
		{Timestamp: now.Add(time.Minute), Open: decimal.NewFromInt(101), High: decimal.NewFromInt(108), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(107)},
		{Timestamp: now.Add(2 * time.Minute), Open: decimal.NewFromInt(107), High: decimal.NewFromInt(112), Low: decimal.NewFromInt(106), Close: decimal.NewFromInt(110)},
	}

	out, err := c.Compute(tripwire.Input{Symbol: "BTCUSDT", Candles: candles, Now: now})
	require.NoError(t, err)

	found := false
	for _, tw := range out {
		if tw.Type == types.TripwireFVG {
			found = true
			require.Equal(t, types.DirectionLong, tw.Direction)
		}
	}
	require.True(t, found)
}

func TestStructuralCalculatorRejectsMalformedCandle(t *testing.T) {
	c := tripwire.NewStructuralCalculator()
	now := time.Now()
	candles := []*types.OHLCV{
		{Timestamp: now, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(90), Low: decimal.NewFromInt(95), Close: decimal.NewFromInt(100)},
		{Timestamp: now.Add(time.Minute), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(105), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(101)},
		{Timestamp: now.Add(2 * time.Minute), Open: decimal.NewFromInt(101), High: decimal.NewFromInt(106), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(102)},
	}

	_, err := c.Compute(tripwire.Input{Symbol: "BTCUSDT", Candles: candles, Now: now})
	require.Error(t, err)
}

func TestStructuralCalculatorInsufficientData(t *testing.T) {
	c := tripwire.NewStructuralCalculator()
	out, err := c.Compute(tripwire.Input{Symbol: "BTCUSDT", Candles: makeCandles(2, 10, 0, 10), Now: time.Now()})
	require.NoError(t, err)
	require.Empty(t, out)
}

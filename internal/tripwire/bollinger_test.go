package tripwire_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/tripwire"
	"github.com/titan-scanner/core/pkg/types"
)

func TestBollingerCalculatorDetectsSqueezeExpansion(t *testing.T) {
	c := tripwire.NewBollingerCalculator()
	now := time.Now()

	var candles []*types.OHLCV
	// Flat, tight range to build a squeeze.
	for i := 0; i < 25; i++ {
		candles = append(candles, &types.OHLCV{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromFloat(100),
			High:      decimal.NewFromFloat(100.1),
			Low:       decimal.NewFromFloat(99.9),
			Close:     decimal.NewFromFloat(100),
		})
	}
	// Expansion candle breaking out.
	candles = append(candles, &types.OHLCV{
		Timestamp: now.Add(25 * time.Minute),
		Open:      decimal.NewFromFloat(100),
		High:      decimal.NewFromFloat(115),
		Low:       decimal.NewFromFloat(99),
		Close:     decimal.NewFromFloat(112),
	})

	out, err := c.Compute(tripwire.Input{Symbol: "BTCUSDT", Candles: candles, Now: now})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, types.DirectionLong, out[0].Direction)
}

func TestBollingerCalculatorInsufficientData(t *testing.T) {
	c := tripwire.NewBollingerCalculator()
	out, err := c.Compute(tripwire.Input{Symbol: "BTCUSDT", Candles: makeCandles(5, 10, 1, 10), Now: time.Now()})
	require.NoError(t, err)
	require.Empty(t, out)
}

package tripwire_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/tripwire"
)

func TestComputeVolatilityHighRegime(t *testing.T) {
	candles := makeCandles(20, 100, -1, 0)
	widen := decimal.NewFromFloat(0.1)
	for i, c := range candles {
		// Widen the range progressively to push ATR% above the high-vol cutoff.
		if i > 0 {
			c.High = c.High.Add(c.High.Mul(widen))
			c.Low = c.Low.Sub(c.Low.Mul(widen))
		}
	}

	metrics := tripwire.ComputeVolatility(candles, 14)
	require.Equal(t, tripwire.RegimeHigh, metrics.Regime)
}

func TestComputeVolatilityInsufficientData(t *testing.T) {
	metrics := tripwire.ComputeVolatility(nil, 14)
	require.Equal(t, tripwire.RegimeNormal, metrics.Regime)
}

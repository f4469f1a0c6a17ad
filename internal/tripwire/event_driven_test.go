package tripwire_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/tripwire"
	"github.com/titan-scanner/core/pkg/types"
)

func TestEventDrivenCalculatorOIWipeout(t *testing.T) {
	c := tripwire.NewEventDrivenCalculator()
	candles := makeCandles(3, 100, 1, 100)

	in := tripwire.Input{
		Symbol:  "BTCUSDT",
		Candles: candles,
		Now:     time.Now(),
		Derived: tripwire.DerivedInputs{
			OpenInterestPrev: decimal.NewFromInt(1000),
			OpenInterest:     decimal.NewFromInt(800),
			PerpPrice:        decimal.NewFromInt(100),
		},
	}

	out, err := c.Compute(in)
	require.NoError(t, err)

	found := false
	for _, tw := range out {
		if tw.Type == types.TripwireOIWipeout {
			found = true
		}
	}
	require.True(t, found)
}

func TestEventDrivenCalculatorFundingSqueezeDirection(t *testing.T) {
	c := tripwire.NewEventDrivenCalculator()
	candles := makeCandles(3, 100, 1, 100)

	in := tripwire.Input{
		Symbol:  "BTCUSDT",
		Candles: candles,
		Now:     time.Now(),
		Derived: tripwire.DerivedInputs{
			FundingRate: decimal.NewFromFloat(-0.01),
			PerpPrice:   decimal.NewFromInt(100),
		},
	}

	out, err := c.Compute(in)
	require.NoError(t, err)

	for _, tw := range out {
		if tw.Type == types.TripwireFundingSqueeze {
			require.Equal(t, types.DirectionLong, tw.Direction)
		}
	}
}

func TestEventDrivenCalculatorNoSignalBelowThresholds(t *testing.T) {
	c := tripwire.NewEventDrivenCalculator()
	candles := makeCandles(3, 100, 1, 100)

	in := tripwire.Input{Symbol: "BTCUSDT", Candles: candles, Now: time.Now()}
	out, err := c.Compute(in)
	require.NoError(t, err)
	require.Empty(t, out)
}

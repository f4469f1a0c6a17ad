// Package tripwire implements the pre-computation stage that turns a
// symbol's recent OHLCV series (and, for event-driven families, derived
// venue inputs) into the ranked top-N watchlist of trigger levels the
// detection engine arms against.
package tripwire

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// DerivedInputs carries the non-candle signals the event-driven
// calculators consume (open interest, funding rate, spot/perp spread).
// Calculators that don't need them leave the zero value alone.
type DerivedInputs struct {
	OpenInterest     decimal.Decimal
	OpenInterestPrev decimal.Decimal
	FundingRate      decimal.Decimal
	SpotPrice        decimal.Decimal
	PerpPrice        decimal.Decimal
}

// Input is what a Calculator receives for one symbol per cycle. Candles
// are oldest-first and already passed data-quality validation.
type Input struct {
	Symbol  string
	Candles []*types.OHLCV
	Derived DerivedInputs
	Now     time.Time
}

// Calculator produces zero or more tripwires for a symbol from its recent
// candles and derived inputs. Insufficient data must return (nil, nil),
// never an error; an error return means the symbol is rejected for the
// cycle entirely (malformed-candle path).
type Calculator interface {
	// Name identifies the calculator for logging and tie-break bookkeeping.
	Name() string
	Compute(in Input) ([]types.Tripwire, error)
}

// newTripwire builds the common envelope every calculator fills in the
// same way, leaving the family-specific fields to the caller.
func newTripwire(symbol string, price decimal.Decimal, dir types.Direction, kind types.TripwireType, confidence, stopPct, targetPct decimal.Decimal, leverage int, now time.Time) types.Tripwire {
	return types.Tripwire{
		Symbol:       symbol,
		TriggerPrice: price,
		Direction:    dir,
		Type:         kind,
		Confidence:   confidence,
		Leverage:     leverage,
		StopLossPct:  stopPct,
		TargetPct:    targetPct,
		State:        types.StateArmed,
		CreatedAt:    now,
	}
}

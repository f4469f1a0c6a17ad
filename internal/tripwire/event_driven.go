package tripwire

import (
	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// EventDrivenCalculator produces the OI_WIPEOUT, FUNDING_SQUEEZE and
// BASIS_ARB families. These are keyed on derived venue inputs (open
// interest, funding rate, spot/perp spread) rather than raw trades; once
// the candle series has passed the malformed-candle check, Compute uses it
// only for the trigger price (the last close) and the OI-wipeout direction
// (the last close-to-close move).
type EventDrivenCalculator struct {
	OIWipeoutThreshold   decimal.Decimal // fractional OI drop, e.g. 0.15 = 15%
	FundingThreshold     decimal.Decimal // absolute funding rate, e.g. 0.003
	BasisThreshold       decimal.Decimal // absolute basis, e.g. 0.005
}

func NewEventDrivenCalculator() *EventDrivenCalculator {
	return &EventDrivenCalculator{
		OIWipeoutThreshold: decimal.NewFromFloat(0.15),
		FundingThreshold:   decimal.NewFromFloat(0.003),
		BasisThreshold:     decimal.NewFromFloat(0.005),
	}
}

func (c *EventDrivenCalculator) Name() string { return "event_driven" }

func (c *EventDrivenCalculator) Compute(in Input) ([]types.Tripwire, error) {
	for _, candle := range in.Candles {
		if !candle.Valid() {
			return nil, errMalformedCandle(in.Symbol)
		}
	}

	var out []types.Tripwire
	price := lastClose(in.Candles)
	if price.IsZero() {
		price = in.Derived.PerpPrice
	}
	if price.IsZero() {
		return out, nil
	}

	if tw, ok := c.oiWipeout(in, price); ok {
		out = append(out, tw)
	}
	if tw, ok := c.fundingSqueeze(in, price); ok {
		out = append(out, tw)
	}
	if tw, ok := c.basisArb(in, price); ok {
		out = append(out, tw)
	}
	return out, nil
}

func (c *EventDrivenCalculator) oiWipeout(in Input, price decimal.Decimal) (types.Tripwire, bool) {
	d := in.Derived
	if d.OpenInterestPrev.IsZero() {
		return types.Tripwire{}, false
	}
	drop := d.OpenInterestPrev.Sub(d.OpenInterest).Div(d.OpenInterestPrev)
	if drop.LessThan(c.OIWipeoutThreshold) {
		return types.Tripwire{}, false
	}
	// A sharp OI wipeout unwinds leveraged positions in both directions;
	// bias the tripwire with the direction price is already moving.
	dir := types.DirectionLong
	if n := len(in.Candles); n >= 2 && in.Candles[n-1].Close.LessThan(in.Candles[n-2].Close) {
		dir = types.DirectionShort
	}
	return newTripwire(in.Symbol, price, dir, types.TripwireOIWipeout,
		decimal.NewFromInt(80), decimal.NewFromFloat(0.015), decimal.NewFromFloat(0.035), 10, in.Now), true
}

func (c *EventDrivenCalculator) fundingSqueeze(in Input, price decimal.Decimal) (types.Tripwire, bool) {
	d := in.Derived
	if d.FundingRate.Abs().LessThan(c.FundingThreshold) {
		return types.Tripwire{}, false
	}
	// Extreme positive funding squeezes longs (favors SHORT), extreme
	// negative funding squeezes shorts (favors LONG).
	dir := types.DirectionShort
	if d.FundingRate.IsNegative() {
		dir = types.DirectionLong
	}
	return newTripwire(in.Symbol, price, dir, types.TripwireFundingSqueeze,
		decimal.NewFromInt(78), decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.025), 8, in.Now), true
}

func (c *EventDrivenCalculator) basisArb(in Input, price decimal.Decimal) (types.Tripwire, bool) {
	d := in.Derived
	if d.SpotPrice.IsZero() {
		return types.Tripwire{}, false
	}
	basis := d.PerpPrice.Sub(d.SpotPrice).Div(d.SpotPrice)
	if basis.Abs().LessThan(c.BasisThreshold) {
		return types.Tripwire{}, false
	}
	// Perp trading rich to spot favors SHORT (convergence down); perp
	// trading cheap to spot favors LONG (convergence up).
	dir := types.DirectionShort
	if basis.IsNegative() {
		dir = types.DirectionLong
	}
	return newTripwire(in.Symbol, price, dir, types.TripwireBasisArb,
		decimal.NewFromInt(75), decimal.NewFromFloat(0.008), decimal.NewFromFloat(0.02), 6, in.Now), true
}

func lastClose(candles []*types.OHLCV) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	return candles[len(candles)-1].Close
}

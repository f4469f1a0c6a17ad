package tripwire

import (
	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// StructuralCalculator produces the Hunter-family candle-pattern
// tripwires: fair value gaps, order blocks, and liquidity pools formed by
// repeated equal highs (equal lows are not examined).
type StructuralCalculator struct {
	// EqualLevelTolerance is the fractional distance within which two
	// swing highs/lows are considered "equal" for liquidity-pool purposes.
	EqualLevelTolerance decimal.Decimal
}

func NewStructuralCalculator() *StructuralCalculator {
	return &StructuralCalculator{EqualLevelTolerance: decimal.NewFromFloat(0.0015)}
}

func (c *StructuralCalculator) Name() string { return "structural" }

func (c *StructuralCalculator) Compute(in Input) ([]types.Tripwire, error) {
	if len(in.Candles) < 3 {
		return nil, nil
	}
	for _, candle := range in.Candles {
		if !candle.Valid() {
			return nil, errMalformedCandle(in.Symbol)
		}
	}

	var out []types.Tripwire
	out = append(out, c.fairValueGaps(in)...)
	out = append(out, c.orderBlocks(in)...)
	out = append(out, c.liquidityPools(in)...)
	return out, nil
}

// fairValueGaps finds 3-candle imbalances: candle[i-2].High < candle[i].Low
// (bullish gap, LONG retest trigger at the gap's midpoint) or the mirror
// for bearish gaps.
func (c *StructuralCalculator) fairValueGaps(in Input) []types.Tripwire {
	var out []types.Tripwire
	for i := 2; i < len(in.Candles); i++ {
		left, right := in.Candles[i-2], in.Candles[i]
		if left.High.LessThan(right.Low) {
			mid := left.High.Add(right.Low).Div(decimal.NewFromInt(2))
			out = append(out, newTripwire(in.Symbol, mid, types.DirectionLong, types.TripwireFVG,
				decimal.NewFromInt(70), decimal.NewFromFloat(0.008), decimal.NewFromFloat(0.02), 5, in.Now))
		} else if left.Low.GreaterThan(right.High) {
			mid := right.High.Add(left.Low).Div(decimal.NewFromInt(2))
			out = append(out, newTripwire(in.Symbol, mid, types.DirectionShort, types.TripwireFVG,
				decimal.NewFromInt(70), decimal.NewFromFloat(0.008), decimal.NewFromFloat(0.02), 5, in.Now))
		}
	}
	return out
}

// orderBlocks finds the last opposite-direction candle immediately before
// a strong directional move (defined as a candle whose high-low range
// exceeds that of the opposite-direction candle before it), marking that
// prior candle's open as the retest trigger.
func (c *StructuralCalculator) orderBlocks(in Input) []types.Tripwire {
	var out []types.Tripwire
	for i := 3; i < len(in.Candles); i++ {
		prior := in.Candles[i-1]
		mover := in.Candles[i]
		bullishMove := mover.Close.GreaterThan(mover.Open) && prior.Close.LessThan(prior.Open)
		bearishMove := mover.Close.LessThan(mover.Open) && prior.Close.GreaterThan(prior.Open)
		moveSpan := mover.High.Sub(mover.Low)
		priorSpan := prior.High.Sub(prior.Low)
		if moveSpan.LessThanOrEqual(priorSpan) {
			continue
		}
		switch {
		case bullishMove:
			out = append(out, newTripwire(in.Symbol, prior.Open, types.DirectionLong, types.TripwireOrderBlock,
				decimal.NewFromInt(72), decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.025), 8, in.Now))
		case bearishMove:
			out = append(out, newTripwire(in.Symbol, prior.Open, types.DirectionShort, types.TripwireOrderBlock,
				decimal.NewFromInt(72), decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.025), 8, in.Now))
		}
	}
	return out
}

// liquidityPools flags swing highs that repeat within EqualLevelTolerance —
// resting stops the market is likely to sweep — as SHORT tripwires. Swing
// lows are not examined.
func (c *StructuralCalculator) liquidityPools(in Input) []types.Tripwire {
	var out []types.Tripwire
	highs := map[string]decimal.Decimal{}
	seen := map[string]bool{}

	for i := 1; i < len(in.Candles)-1; i++ {
		prev, cur, next := in.Candles[i-1], in.Candles[i], in.Candles[i+1]
		if cur.High.GreaterThan(prev.High) && cur.High.GreaterThan(next.High) {
			for _, h := range highs {
				if closeEnough(h, cur.High, c.EqualLevelTolerance) {
					key := h.String()
					if !seen[key] {
						out = append(out, newTripwire(in.Symbol, h, types.DirectionShort, types.TripwireLiquidityPool,
							decimal.NewFromInt(76), decimal.NewFromFloat(0.012), decimal.NewFromFloat(0.03), 10, in.Now))
						seen[key] = true
					}
				}
			}
			highs[cur.Timestamp.String()] = cur.High
		}
	}
	return out
}

func closeEnough(a, b, tolerance decimal.Decimal) bool {
	if a.IsZero() {
		return false
	}
	diff := a.Sub(b).Abs().Div(a)
	return diff.LessThanOrEqual(tolerance)
}

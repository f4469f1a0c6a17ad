package tripwire

import (
	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/internal/stats"
	"github.com/titan-scanner/core/pkg/types"
)

// LiquidationCalculator flags volume-profile peaks beyond a standard
// deviation threshold of the rolling mean volume — candles where trading
// activity clusters hard enough to suggest a resting liquidation pool.
type LiquidationCalculator struct {
	// ZThreshold is the number of standard deviations above the rolling
	// mean volume a candle's volume must clear to qualify as a cluster.
	ZThreshold float64
	Window     int
}

// NewLiquidationCalculator returns a calculator using the spec's stated
// confidence/leverage/stop/target constants for this family.
func NewLiquidationCalculator() *LiquidationCalculator {
	return &LiquidationCalculator{ZThreshold: 2.0, Window: 20}
}

func (c *LiquidationCalculator) Name() string { return "liquidation" }

func (c *LiquidationCalculator) Compute(in Input) ([]types.Tripwire, error) {
	if len(in.Candles) < c.Window+1 {
		return nil, nil
	}
	for _, candle := range in.Candles {
		if !candle.Valid() {
			return nil, errMalformedCandle(in.Symbol)
		}
	}

	w := stats.NewWindow(c.Window)
	var out []types.Tripwire

	for i, candle := range in.Candles {
		vol, _ := candle.Volume.Float64()
		if w.Full() {
			z := w.ZScore(vol)
			// A flat window has no spread, so any volume above its mean
			// clears the threshold.
			if z >= c.ZThreshold || (w.StdDev() == 0 && vol > w.Mean()) {
				dir := types.DirectionLong
				if i > 0 && in.Candles[i].Close.LessThan(in.Candles[i-1].Close) {
					dir = types.DirectionShort
				}
				out = append(out, newTripwire(
					in.Symbol, candle.High, dir, types.TripwireLiquidation,
					decimal.NewFromInt(95), decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.03),
					20, in.Now,
				))
			}
		}
		w.Add(vol)
	}
	return out, nil
}

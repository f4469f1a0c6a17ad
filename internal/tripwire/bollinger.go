package tripwire

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// BollingerCalculator detects a volatility squeeze — band width compressing
// to its 20-sample minimum — followed by an expansion candle, and fires a
// breakout tripwire in the direction of that candle's close.
type BollingerCalculator struct {
	Window         int
	ExpansionRatio float64 // expansion must exceed squeeze width by this factor
}

func NewBollingerCalculator() *BollingerCalculator {
	return &BollingerCalculator{Window: 20, ExpansionRatio: 1.5}
}

func (c *BollingerCalculator) Name() string { return "bollinger" }

func (c *BollingerCalculator) Compute(in Input) ([]types.Tripwire, error) {
	n := c.Window
	if len(in.Candles) < n+2 {
		return nil, nil
	}
	for _, candle := range in.Candles {
		if !candle.Valid() {
			return nil, errMalformedCandle(in.Symbol)
		}
	}

	width := make([]float64, len(in.Candles))
	for i := range in.Candles {
		if i < n-1 {
			width[i] = math.NaN()
			continue
		}
		var sum, sumSq float64
		for j := i - n + 1; j <= i; j++ {
			close, _ := in.Candles[j].Close.Float64()
			sum += close
			sumSq += close * close
		}
		mean := sum / float64(n)
		variance := sumSq/float64(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		width[i] = 4 * math.Sqrt(variance) // 2 stddev band, upper-lower span
	}

	var out []types.Tripwire
	for i := n; i < len(in.Candles); i++ {
		if math.IsNaN(width[i]) || math.IsNaN(width[i-1]) {
			continue
		}
		squeezeMin := width[i-1]
		for j := i - n; j < i; j++ {
			if !math.IsNaN(width[j]) && width[j] < squeezeMin {
				squeezeMin = width[j]
			}
		}
		wasSqueeze := width[i-1] <= squeezeMin*1.0001
		expanded := width[i] > squeezeMin && width[i] >= squeezeMin*c.ExpansionRatio
		if !wasSqueeze || !expanded {
			continue
		}

		candle := in.Candles[i]
		dir := types.DirectionLong
		if candle.Close.LessThan(in.Candles[i-1].Close) {
			dir = types.DirectionShort
		}
		out = append(out, newTripwire(
			in.Symbol, candle.Close, dir, types.TripwireBollinger,
			decimal.NewFromInt(90), decimal.NewFromFloat(0.015), decimal.NewFromFloat(0.04),
			15, in.Now,
		))
	}
	return out, nil
}

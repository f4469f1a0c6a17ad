package tripwire

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/internal/stats"
	"github.com/titan-scanner/core/pkg/types"
)

// VolatilityRegime classifies a symbol's current ATR as a fraction of its
// last close: at or above 4% is high, at or below 1% is low, anything in
// between is normal. The sizing logic applies each bucket's size multiplier.
const (
	RegimeLow    = "low_vol"
	RegimeNormal = "normal"
	RegimeHigh   = "high_vol"
)

// ComputeVolatility derives the per-symbol {atr, regime, stop_multiplier,
// size_multiplier, mean_volume} attached to every tripwire produced in a
// cycle. atrWindow candles are used for a Wilder-style ATR; the same
// candles feed the rolling mean-volume window.
func ComputeVolatility(candles []*types.OHLCV, atrWindow int) types.VolatilityMetrics {
	if len(candles) < 2 {
		return types.VolatilityMetrics{
			Regime:         RegimeNormal,
			StopMultiplier: decimal.NewFromInt(1),
			SizeMultiplier: decimal.NewFromInt(1),
		}
	}
	if atrWindow <= 0 {
		atrWindow = 14
	}

	trueRanges := make([]float64, 0, len(candles)-1)
	volWindow := stats.NewWindow(atrWindow)
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		high, _ := cur.High.Float64()
		low, _ := cur.Low.Float64()
		prevClose, _ := prev.Close.Float64()

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges = append(trueRanges, tr)

		vol, _ := cur.Volume.Float64()
		volWindow.Add(vol)
	}

	atr := wilderATR(trueRanges, atrWindow)
	lastClose, _ := candles[len(candles)-1].Close.Float64()
	atrPct := 0.0
	if lastClose > 0 {
		atrPct = atr / lastClose
	}

	regime := RegimeNormal
	stopMult := 1.0
	sizeMult := 1.0
	switch {
	case atrPct >= 0.04:
		regime = RegimeHigh
		stopMult = 1.5
		sizeMult = 0.5
	case atrPct <= 0.01:
		regime = RegimeLow
		stopMult = 0.75
		sizeMult = 1.25
	}

	return types.VolatilityMetrics{
		ATR:            decimal.NewFromFloat(atr),
		Regime:         regime,
		StopMultiplier: decimal.NewFromFloat(stopMult),
		SizeMultiplier: decimal.NewFromFloat(sizeMult),
		MeanVolume:     decimal.NewFromFloat(volWindow.Mean()),
	}
}

// wilderATR computes Wilder's smoothed average true range: a simple
// average seeds the first window, then each subsequent value blends in at
// weight 1/window.
func wilderATR(trueRanges []float64, window int) float64 {
	if len(trueRanges) == 0 {
		return 0
	}
	if len(trueRanges) < window {
		sum := 0.0
		for _, tr := range trueRanges {
			sum += tr
		}
		return sum / float64(len(trueRanges))
	}

	sum := 0.0
	for i := 0; i < window; i++ {
		sum += trueRanges[i]
	}
	atr := sum / float64(window)
	for i := window; i < len(trueRanges); i++ {
		atr = (atr*float64(window-1) + trueRanges[i]) / float64(window)
	}
	return atr
}

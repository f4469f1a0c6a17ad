package tripwire

import (
	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// DailyLevelCalculator marks the previous trading day's high and low as
// LONG/SHORT trigger levels respectively.
type DailyLevelCalculator struct{}

func NewDailyLevelCalculator() *DailyLevelCalculator { return &DailyLevelCalculator{} }

func (c *DailyLevelCalculator) Name() string { return "daily_level" }

func (c *DailyLevelCalculator) Compute(in Input) ([]types.Tripwire, error) {
	if len(in.Candles) == 0 {
		return nil, nil
	}

	prevDay := in.Now.AddDate(0, 0, -1).YearDay()
	var high, low decimal.Decimal
	found := false

	for _, candle := range in.Candles {
		if !candle.Valid() {
			return nil, errMalformedCandle(in.Symbol)
		}
		if candle.Timestamp.YearDay() != prevDay || candle.Timestamp.Year() != in.Now.AddDate(0, 0, -1).Year() {
			continue
		}
		if !found {
			high, low = candle.High, candle.Low
			found = true
			continue
		}
		if candle.High.GreaterThan(high) {
			high = candle.High
		}
		if candle.Low.LessThan(low) {
			low = candle.Low
		}
	}
	if !found {
		return nil, nil
	}

	confidence := decimal.NewFromInt(85)
	stop := decimal.NewFromFloat(0.01)
	target := decimal.NewFromFloat(0.03)

	return []types.Tripwire{
		newTripwire(in.Symbol, high, types.DirectionLong, types.TripwireDailyLevel, confidence, stop, target, 12, in.Now),
		newTripwire(in.Symbol, low, types.DirectionShort, types.TripwireDailyLevel, confidence, stop, target, 12, in.Now),
	}, nil
}

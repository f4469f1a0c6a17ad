// Package sizing turns a tripwire's confidence and risk/reward shape into
// an order size: a fractional-Kelly estimate scaled by the tripwire's
// volatility-regime multiplier and clamped to a configured position-size
// band. It has no portfolio-history dependency (no win-rate/avg-win/avg-loss
// statistics): at the point a tripwire fires, its confidence score and
// stop/target distance are the only risk inputs the detection engine's pure
// transition function has in hand.
package sizing

import (
	"github.com/shopspring/decimal"
)

// Config tunes how much of BaseSize a single signal can size into.
type Config struct {
	BaseSize       decimal.Decimal // notional/qty sized at kelly_fraction=confidence=100%, regime=normal
	KellyFraction  decimal.Decimal // fraction of full Kelly actually used (quarter-Kelly by default)
	MaxPositionPct decimal.Decimal // cap on BaseSize this signal may reach
	MinPositionPct decimal.Decimal // floor on BaseSize every ACTIVATED signal still sizes
}

// DefaultConfig mirrors the teacher's quarter-Kelly default with a 0.10
// base clip, matching the parent size spec.md's happy-path scenario sizes
// its example fan-out against.
func DefaultConfig() Config {
	return Config{
		BaseSize:       decimal.NewFromFloat(0.10),
		KellyFraction:  decimal.NewFromFloat(0.25),
		MaxPositionPct: decimal.NewFromFloat(1.5),
		MinPositionPct: decimal.NewFromFloat(0.05),
	}
}

// Size computes an order size from confidence (0..100), the stop-loss and
// target percentages a tripwire was created with, and its volatility
// regime's size multiplier (1 when no volatility metrics were computed).
//
// Kelly's f* = p - q/b is applied with p = confidence/100, q = 1-p, and
// b = target_pct/stop_loss_pct as the reward/risk ratio in place of the
// historical avg-win/avg-loss ratio position_sizer.go draws from trade
// history — the same formula, fed by the inputs available at signal-fire
// time instead of a rolling trade log.
func Size(cfg Config, confidence, stopLossPct, targetPct, regimeSizeMultiplier decimal.Decimal) decimal.Decimal {
	if regimeSizeMultiplier.IsZero() {
		regimeSizeMultiplier = decimal.NewFromInt(1)
	}

	kelly := kellyFraction(confidence, stopLossPct, targetPct)
	positionPct := kelly.Mul(cfg.KellyFraction).Mul(regimeSizeMultiplier)

	if positionPct.GreaterThan(cfg.MaxPositionPct) {
		positionPct = cfg.MaxPositionPct
	}
	if positionPct.LessThan(cfg.MinPositionPct) {
		positionPct = cfg.MinPositionPct
	}
	return cfg.BaseSize.Mul(positionPct)
}

// kellyFraction returns p - q/b, clamped to [0, 1]: a negative edge sizes
// to zero (handled by Config.MinPositionPct upstream) rather than going
// short the opposite way, matching position_sizer.go's calculateKelly.
func kellyFraction(confidence, stopLossPct, targetPct decimal.Decimal) decimal.Decimal {
	if stopLossPct.IsZero() {
		return decimal.Zero
	}
	p := confidence.Div(decimal.NewFromInt(100))
	q := decimal.NewFromInt(1).Sub(p)
	b := targetPct.Div(stopLossPct)
	if !b.IsPositive() {
		return decimal.Zero
	}

	kelly := p.Sub(q.Div(b))
	if kelly.IsNegative() {
		return decimal.Zero
	}
	if kelly.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return kelly
}

// Package risk evaluates a portfolio's HealthReport against a fixed rule
// set and produces a worst-of classification plus the violations that
// drove it. Evaluate never short-circuits: every rule runs regardless of
// whether an earlier rule already failed, so a single cycle surfaces every
// problem at once instead of one at a time across repeated calls.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// Violation names, stable strings surfaced to operators and logs.
const (
	ViolationWarningDelta     = "WARNING_DELTA"
	ViolationCriticalDelta    = "CRITICAL_DELTA"
	ViolationWarningDrawdown  = "WARNING_DRAWDOWN"
	ViolationCriticalDrawdown = "CRITICAL_DRAWDOWN"
	ViolationMaxLeverage      = "MAX_LEVERAGE"
)

var (
	half = decimal.NewFromFloat(0.5)
	one  = decimal.NewFromInt(1)
)

// Config holds the thresholds Evaluate checks against. All ratios are
// expressed as fractions of equity (0.25 means 25%), volatility and
// liquidity scores are 0..100.
type Config struct {
	MaxDelta              decimal.Decimal
	CriticalDelta         decimal.Decimal
	DailyDrawdownLimit    decimal.Decimal
	CriticalDrawdownLimit decimal.Decimal
	MaxLeverage           decimal.Decimal
	HighVolatilityScore   decimal.Decimal
	LowLiquidityScore     decimal.Decimal
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxDelta:              decimal.NewFromFloat(0.15),
		CriticalDelta:         decimal.NewFromFloat(0.30),
		DailyDrawdownLimit:    decimal.NewFromFloat(0.05),
		CriticalDrawdownLimit: decimal.NewFromFloat(0.10),
		MaxLeverage:           decimal.NewFromInt(3),
		HighVolatilityScore:   decimal.NewFromInt(75),
		LowLiquidityScore:     decimal.NewFromInt(25),
	}
}

// Result is the outcome of one Evaluate call.
type Result struct {
	WithinLimits bool
	Status       types.RiskStatus
	DeltaRatio   decimal.Decimal
	Leverage     decimal.Decimal
	Drawdown     decimal.Decimal
	Violations   []string
}

// Evaluate checks report (plus the externally tracked drawdown, volatility,
// and liquidity scores) against cfg and returns every violation found.
// equity, volatility, and liquidity are supplied by the caller: equity
// comes from the portfolio tracker's HealthReport.Equity field, volatility
// and liquidity are rolling scores maintained outside this package.
func Evaluate(report types.HealthReport, equity, drawdown, volatility, liquidity decimal.Decimal, cfg Config) Result {
	result := Result{Status: types.RiskHealthy}

	if !equity.IsZero() {
		result.DeltaRatio = report.Delta.Abs().Div(equity)
		result.Leverage = report.GrossNotional.Div(equity)
	}
	result.Drawdown = drawdown

	if result.DeltaRatio.GreaterThan(cfg.MaxDelta) {
		result.Violations = append(result.Violations, ViolationWarningDelta)
		result.raise(types.RiskWarn)
	}
	if result.DeltaRatio.GreaterThan(cfg.CriticalDelta) {
		result.Violations = append(result.Violations, ViolationCriticalDelta)
		result.raise(types.RiskCritical)
	}
	if drawdown.GreaterThan(cfg.DailyDrawdownLimit) {
		result.Violations = append(result.Violations, ViolationWarningDrawdown)
		result.raise(types.RiskWarn)
	}
	if drawdown.GreaterThan(cfg.CriticalDrawdownLimit) {
		result.Violations = append(result.Violations, ViolationCriticalDrawdown)
		result.raise(types.RiskCritical)
	}

	vf := volFactor(volatility, cfg.HighVolatilityScore)
	lf := liqFactor(liquidity, cfg.LowLiquidityScore)
	effectiveCap := cfg.MaxLeverage.Mul(vf).Mul(lf)
	if result.Leverage.GreaterThan(effectiveCap) {
		result.Violations = append(result.Violations, fmt.Sprintf(
			"%s(vol_factor=%s,liq_factor=%s,cap=%s)", ViolationMaxLeverage, vf, lf, effectiveCap))
		result.raise(types.RiskCritical)
	}

	result.WithinLimits = len(result.Violations) == 0
	return result
}

// raise widens the result's Status to the worse of its current value and
// candidate, never softening an already-worse classification.
func (r *Result) raise(candidate types.RiskStatus) {
	if severity(candidate) > severity(r.Status) {
		r.Status = candidate
	}
}

func severity(s types.RiskStatus) int {
	switch s {
	case types.RiskCritical:
		return 2
	case types.RiskWarn:
		return 1
	default:
		return 0
	}
}

// volFactor drops to 0.5 once volatility exceeds the high-volatility
// threshold, 1 otherwise.
func volFactor(volatility, threshold decimal.Decimal) decimal.Decimal {
	if volatility.GreaterThan(threshold) {
		return half
	}
	return one
}

// liqFactor drops to 0.5 once liquidity falls below the low-liquidity
// threshold, 1 otherwise.
func liqFactor(liquidity, threshold decimal.Decimal) decimal.Decimal {
	if liquidity.LessThan(threshold) {
		return half
	}
	return one
}

package risk_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/risk"
	"github.com/titan-scanner/core/pkg/types"
)

func TestEvaluateWithinLimitsWhenHealthy(t *testing.T) {
	cfg := risk.DefaultConfig()
	report := types.HealthReport{Delta: decimal.NewFromInt(1), GrossNotional: decimal.NewFromInt(10)}

	result := risk.Evaluate(report, decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(10), decimal.NewFromInt(90), cfg)

	require.True(t, result.WithinLimits)
	require.Equal(t, types.RiskHealthy, result.Status)
	require.Empty(t, result.Violations)
}

func TestEvaluateAccumulatesWarningAndCriticalDelta(t *testing.T) {
	cfg := risk.DefaultConfig()
	report := types.HealthReport{Delta: decimal.NewFromInt(40), GrossNotional: decimal.Zero}

	result := risk.Evaluate(report, decimal.NewFromInt(100), decimal.Zero, decimal.Zero, decimal.NewFromInt(100), cfg)

	require.False(t, result.WithinLimits)
	require.Contains(t, result.Violations, risk.ViolationWarningDelta)
	require.Contains(t, result.Violations, risk.ViolationCriticalDelta)
	require.Equal(t, types.RiskCritical, result.Status)
}

func TestEvaluateDoesNotShortCircuitAcrossIndependentRules(t *testing.T) {
	cfg := risk.DefaultConfig()
	report := types.HealthReport{Delta: decimal.NewFromInt(40), GrossNotional: decimal.Zero}

	result := risk.Evaluate(report, decimal.NewFromInt(100), decimal.NewFromFloat(0.2), decimal.Zero, decimal.NewFromInt(100), cfg)

	require.Contains(t, result.Violations, risk.ViolationWarningDelta)
	require.Contains(t, result.Violations, risk.ViolationWarningDrawdown)
	require.Contains(t, result.Violations, risk.ViolationCriticalDrawdown)
}

func TestEvaluateMaxLeverageRespectsVolAndLiqFactors(t *testing.T) {
	cfg := risk.DefaultConfig()
	report := types.HealthReport{GrossNotional: decimal.NewFromInt(200)}

	// equity 100, gross notional 200 -> leverage 2. Default cap is 3, so
	// this passes when vol/liq are benign...
	result := risk.Evaluate(report, decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(10), decimal.NewFromInt(90), cfg)
	require.True(t, result.WithinLimits)

	// ...but high volatility and low liquidity both halve the cap to 0.75,
	// which 2x leverage now exceeds.
	result = risk.Evaluate(report, decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(90), decimal.NewFromInt(5), cfg)
	require.False(t, result.WithinLimits)
	require.Len(t, result.Violations, 1)
	require.Contains(t, result.Violations[0], risk.ViolationMaxLeverage)
}

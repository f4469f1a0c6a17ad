package rebalancer_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/rebalancer"
	"github.com/titan-scanner/core/pkg/types"
)

func TestDecideReturnsNilWhenHealthy(t *testing.T) {
	cfg := rebalancer.DefaultConfig()
	report := types.HealthReport{NAV: decimal.NewFromInt(100), MarginUtilization: decimal.NewFromFloat(0.3)}

	action := rebalancer.Decide(report, decimal.NewFromInt(100), cfg)
	require.Nil(t, action)
}

func TestDecideTier1AtLowWatermark(t *testing.T) {
	cfg := rebalancer.DefaultConfig()
	report := types.HealthReport{NAV: decimal.NewFromInt(100), Equity: decimal.NewFromInt(100), MarginUtilization: decimal.NewFromFloat(0.75)}

	action := rebalancer.Decide(report, decimal.NewFromInt(100), cfg)
	require.NotNil(t, action)
	require.Equal(t, rebalancer.ActionTier1, action.Type)
}

func TestDecideTier2TakesPriorityOverTier1(t *testing.T) {
	cfg := rebalancer.DefaultConfig()
	report := types.HealthReport{NAV: decimal.NewFromInt(100), Equity: decimal.NewFromInt(100), MarginUtilization: decimal.NewFromFloat(0.9)}

	action := rebalancer.Decide(report, decimal.NewFromInt(100), cfg)
	require.NotNil(t, action)
	require.Equal(t, rebalancer.ActionTier2, action.Type)
}

func TestDecideCompoundWhenNAVGrownAndDeltaNearZero(t *testing.T) {
	cfg := rebalancer.DefaultConfig()
	report := types.HealthReport{NAV: decimal.NewFromInt(125), Delta: decimal.Zero, MarginUtilization: decimal.NewFromFloat(0.3)}

	action := rebalancer.Decide(report, decimal.NewFromInt(100), cfg)
	require.NotNil(t, action)
	require.Equal(t, rebalancer.ActionCompound, action.Type)
}

func TestDecideHardCompoundWhenGrowthExtreme(t *testing.T) {
	cfg := rebalancer.DefaultConfig()
	report := types.HealthReport{NAV: decimal.NewFromInt(200), Delta: decimal.Zero, MarginUtilization: decimal.NewFromFloat(0.3)}

	action := rebalancer.Decide(report, decimal.NewFromInt(100), cfg)
	require.NotNil(t, action)
	require.Equal(t, rebalancer.ActionHardCompound, action.Type)
}

func TestDecideSkipsCompoundWhenDeltaNotNearZero(t *testing.T) {
	cfg := rebalancer.DefaultConfig()
	report := types.HealthReport{NAV: decimal.NewFromInt(130), Delta: decimal.NewFromInt(50), MarginUtilization: decimal.NewFromFloat(0.3)}

	action := rebalancer.Decide(report, decimal.NewFromInt(100), cfg)
	require.Nil(t, action)
}

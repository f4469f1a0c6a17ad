package portfolio_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/portfolio"
	"github.com/titan-scanner/core/pkg/types"
)

func TestUpdateSizeOpensPositionAtMark(t *testing.T) {
	tr := portfolio.New(zap.NewNop())
	pos := tr.UpdateSize("BTCUSDT", decimal.NewFromFloat(1), decimal.Zero, decimal.NewFromInt(50000), decimal.NewFromInt(50010))

	require.True(t, pos.SpotEntry.Equal(decimal.NewFromInt(50000)))
	require.True(t, pos.SpotSize.Equal(decimal.NewFromFloat(1)))
}

func TestUpdateSizeBlendsEntryWhenAddingSameDirection(t *testing.T) {
	tr := portfolio.New(zap.NewNop())
	tr.UpdateSize("BTCUSDT", decimal.NewFromFloat(1), decimal.Zero, decimal.NewFromInt(50000), decimal.NewFromInt(50000))
	pos := tr.UpdateSize("BTCUSDT", decimal.NewFromFloat(1), decimal.Zero, decimal.NewFromInt(51000), decimal.NewFromInt(51000))

	require.True(t, pos.SpotEntry.Equal(decimal.NewFromInt(50500)))
	require.True(t, pos.SpotSize.Equal(decimal.NewFromFloat(2)))
}

func TestUpdateSizeResetsEntryWhenCrossingZero(t *testing.T) {
	tr := portfolio.New(zap.NewNop())
	tr.UpdateSize("BTCUSDT", decimal.NewFromFloat(1), decimal.Zero, decimal.NewFromInt(50000), decimal.NewFromInt(50000))
	pos := tr.UpdateSize("BTCUSDT", decimal.NewFromFloat(-2), decimal.Zero, decimal.NewFromInt(52000), decimal.NewFromInt(52000))

	require.True(t, pos.SpotSize.Equal(decimal.NewFromFloat(-1)))
	require.True(t, pos.SpotEntry.Equal(decimal.NewFromInt(52000)))
}

func TestBuildHealthReportAggregatesAcrossPositions(t *testing.T) {
	tr := portfolio.New(zap.NewNop())
	tr.UpdateSize("BTCUSDT", decimal.NewFromFloat(1), decimal.Zero, decimal.NewFromInt(50000), decimal.NewFromInt(50000))
	tr.UpdateSize("ETHUSDT", decimal.NewFromFloat(10), decimal.Zero, decimal.NewFromInt(2000), decimal.NewFromInt(2000))

	report := tr.BuildHealthReport(decimal.NewFromInt(1000), decimal.NewFromInt(500), decimal.NewFromInt(1000), types.RiskHealthy)

	require.Len(t, report.Positions, 2)
	require.True(t, report.MarginUtilization.Equal(decimal.NewFromFloat(0.5)))
	require.Equal(t, types.RiskHealthy, report.RiskStatus)
}

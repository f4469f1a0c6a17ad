package stats_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/stats"
)

func TestWindowMeanAndStdDev(t *testing.T) {
	w := stats.NewWindow(5)
	for _, v := range []float64{2, 4, 4, 4, 5} {
		w.Add(v)
	}

	require.InDelta(t, 3.8, w.Mean(), 1e-9)
	require.True(t, w.Full())
}

func TestWindowEvictsOldestBeyondCapacity(t *testing.T) {
	w := stats.NewWindow(3)
	for _, v := range []float64{1, 2, 3, 100} {
		w.Add(v)
	}

	require.Equal(t, 3, w.Len())
	require.ElementsMatch(t, []float64{2, 3, 100}, w.Samples())
}

func TestWindowZScoreFlatSeriesIsZero(t *testing.T) {
	w := stats.NewWindow(4)
	for i := 0; i < 4; i++ {
		w.Add(10)
	}
	require.Equal(t, 0.0, w.ZScore(10))
	require.Equal(t, 0.0, w.ZScore(50))
}

func TestWindowZScoreMatchesManualCalculation(t *testing.T) {
	w := stats.NewWindow(4)
	vals := []float64{10, 12, 14, 16}
	for _, v := range vals {
		w.Add(v)
	}

	mean := 13.0
	variance := 0.0
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals))
	sd := math.Sqrt(variance)

	require.InDelta(t, (20-mean)/sd, w.ZScore(20), 1e-9)
}

func TestWindowPercentile(t *testing.T) {
	w := stats.NewWindow(5)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		w.Add(v)
	}

	require.InDelta(t, 10, w.Percentile(0), 1e-9)
	require.InDelta(t, 50, w.Percentile(100), 1e-9)
	require.InDelta(t, 30, w.Percentile(50), 1e-9)
}

func TestWindowEmpty(t *testing.T) {
	w := stats.NewWindow(5)
	require.Equal(t, 0.0, w.Mean())
	require.Equal(t, 0.0, w.StdDev())
	require.Equal(t, 0.0, w.Percentile(50))
}

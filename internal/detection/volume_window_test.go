package detection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/detection"
	"github.com/titan-scanner/core/pkg/types"
)

func TestEvaluateWindowCountsWithinWindow(t *testing.T) {
	start := time.Now()
	counter := types.VolumeCounter{WindowStart: start, Count: 5}
	next, status := detection.EvaluateWindow(counter, tradeAt(100, start.Add(50*time.Millisecond)), 100*time.Millisecond)

	require.Equal(t, detection.WindowCounted, status)
	require.Equal(t, 6, next.Count)
}

func TestEvaluateWindowExpiresAtExactBoundary(t *testing.T) {
	start := time.Now()
	counter := types.VolumeCounter{WindowStart: start, Count: 5}
	next, status := detection.EvaluateWindow(counter, tradeAt(100, start.Add(100*time.Millisecond)), 100*time.Millisecond)

	require.Equal(t, detection.WindowExpired, status)
	require.Zero(t, next.Count)
}

func TestEvaluateWindowExpiresPastBoundary(t *testing.T) {
	start := time.Now()
	counter := types.VolumeCounter{WindowStart: start, Count: 5}
	_, status := detection.EvaluateWindow(counter, tradeAt(100, start.Add(101*time.Millisecond)), 100*time.Millisecond)

	require.Equal(t, detection.WindowExpired, status)
}

func TestThresholdMet(t *testing.T) {
	require.True(t, detection.ThresholdMet(types.VolumeCounter{Count: 50}, 50))
	require.False(t, detection.ThresholdMet(types.VolumeCounter{Count: 49}, 50))
}

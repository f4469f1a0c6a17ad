package detection_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/detection"
	"github.com/titan-scanner/core/pkg/types"
)

func baseTripwire() types.Tripwire {
	return types.Tripwire{
		Symbol:       "BTCUSDT",
		TriggerPrice: decimal.NewFromInt(50000),
		Direction:    types.DirectionLong,
		Type:         types.TripwireLiquidation,
		Confidence:   decimal.NewFromInt(95),
		Leverage:     20,
		StopLossPct:  decimal.NewFromFloat(0.01),
		TargetPct:    decimal.NewFromFloat(0.03),
		State:        types.StateArmed,
		CreatedAt:    time.Now(),
	}
}

func tradeAt(price float64, ts time.Time) types.Trade {
	return types.Trade{Symbol: "BTCUSDT", Price: decimal.NewFromFloat(price), Qty: decimal.NewFromInt(1), Timestamp: ts}
}

func TestTransitionArmsOnProximity(t *testing.T) {
	tw := baseTripwire()
	now := time.Now()
	next, effects := detection.Transition(tw, tradeAt(50010, now), now, detection.DefaultConfig(), detection.Gates{}, detection.MarketSnapshot{Valid: true}, "scavenger")

	require.Equal(t, types.StateCandidate, next.State)
	require.Equal(t, 1, next.VolumeCounter.Count)
	require.NotEmpty(t, effects)
}

func TestTransitionIgnoresFarTrade(t *testing.T) {
	tw := baseTripwire()
	now := time.Now()
	next, effects := detection.Transition(tw, tradeAt(55000, now), now, detection.DefaultConfig(), detection.Gates{}, detection.MarketSnapshot{Valid: true}, "scavenger")

	require.Equal(t, types.StateArmed, next.State)
	require.Nil(t, effects)
}

func TestTransitionArmsAtExactBoundary(t *testing.T) {
	tw := baseTripwire()
	now := time.Now()
	boundary := 50000 * 1.001
	next, _ := detection.Transition(tw, tradeAt(boundary, now), now, detection.DefaultConfig(), detection.Gates{}, detection.MarketSnapshot{Valid: true}, "scavenger")
	require.Equal(t, types.StateCandidate, next.State)
}

func TestTransitionCandidateFiresAfterThreshold(t *testing.T) {
	tw := baseTripwire()
	tw.State = types.StateCandidate
	start := time.Now()
	tw.VolumeCounter = types.VolumeCounter{WindowStart: start, Count: 49}

	cfg := detection.DefaultConfig()
	market := detection.MarketSnapshot{Valid: true, TrendDir: types.DirectionLong, CVDDelta: decimal.NewFromInt(1)}
	next, effects := detection.Transition(tw, tradeAt(50000, start.Add(10*time.Millisecond)), start.Add(10*time.Millisecond), cfg, detection.Gates{}, market, "scavenger")

	require.Equal(t, types.StateCooldown, next.State)
	var sawIntent bool
	for _, e := range effects {
		if e.Kind == detection.EffectEmitIntent {
			sawIntent = true
			require.Equal(t, "BTCUSDT", e.Signal.Symbol)
		}
	}
	require.True(t, sawIntent)
}

func TestTransitionCandidateWindowExpiresClosedOpenBoundary(t *testing.T) {
	tw := baseTripwire()
	tw.State = types.StateCandidate
	start := time.Now()
	tw.VolumeCounter = types.VolumeCounter{WindowStart: start, Count: 10}

	cfg := detection.DefaultConfig()
	// Exactly at start+window: must NOT count, window expires instead.
	atBoundary := start.Add(cfg.VolumeWindow)
	next, effects := detection.Transition(tw, tradeAt(50000, atBoundary), atBoundary, cfg, detection.Gates{}, detection.MarketSnapshot{Valid: true}, "scavenger")

	require.Equal(t, types.StateArmed, next.State)
	require.Zero(t, next.VolumeCounter.Count)
	require.Len(t, effects, 1)
}

func TestTransitionVetoByAccelerationReturnsToArmedAndIncrementsAttempts(t *testing.T) {
	tw := baseTripwire()
	tw.State = types.StateCandidate
	start := time.Now()
	tw.VolumeCounter = types.VolumeCounter{WindowStart: start, Count: 49}

	cfg := detection.DefaultConfig()
	market := detection.MarketSnapshot{Valid: true, Acceleration: decimal.NewFromFloat(0.01)}
	next, _ := detection.Transition(tw, tradeAt(50000, start.Add(time.Millisecond)), start.Add(time.Millisecond), cfg, detection.Gates{}, market, "scavenger")

	require.Equal(t, types.StateArmed, next.State)
	require.Equal(t, uint32(1), next.Attempts)
}

func TestTransitionDetectionFailureKeepsCandidate(t *testing.T) {
	tw := baseTripwire()
	tw.State = types.StateCandidate
	start := time.Now()
	tw.VolumeCounter = types.VolumeCounter{WindowStart: start, Count: 49}

	cfg := detection.DefaultConfig()
	next, _ := detection.Transition(tw, tradeAt(50000, start.Add(time.Millisecond)), start.Add(time.Millisecond), cfg, detection.Gates{}, detection.MarketSnapshot{Valid: false}, "scavenger")

	require.Equal(t, types.StateCandidate, next.State)
	require.Equal(t, uint32(1), next.Attempts)
}

func TestTransitionMaxAttemptsExpires(t *testing.T) {
	tw := baseTripwire()
	tw.State = types.StateCandidate
	tw.Attempts = 9
	start := time.Now()
	tw.VolumeCounter = types.VolumeCounter{WindowStart: start, Count: 49}

	cfg := detection.DefaultConfig()
	next, _ := detection.Transition(tw, tradeAt(50000, start.Add(time.Millisecond)), start.Add(time.Millisecond), cfg, detection.Gates{}, detection.MarketSnapshot{Valid: false}, "scavenger")

	require.Equal(t, types.StateExpired, next.State)
}

func TestTransitionGhostModeSkipsIntentButCoolsDown(t *testing.T) {
	tw := baseTripwire()
	tw.State = types.StateCandidate
	start := time.Now()
	tw.VolumeCounter = types.VolumeCounter{WindowStart: start, Count: 49}

	cfg := detection.DefaultConfig()
	gates := detection.Gates{GhostMode: true}
	market := detection.MarketSnapshot{Valid: true, TrendDir: types.DirectionLong, CVDDelta: decimal.NewFromInt(1)}
	next, effects := detection.Transition(tw, tradeAt(50000, start.Add(time.Millisecond)), start.Add(time.Millisecond), cfg, gates, market, "scavenger")

	require.Equal(t, types.StateCooldown, next.State)
	for _, e := range effects {
		require.NotEqual(t, detection.EffectEmitIntent, e.Kind)
	}
}

func TestTransitionCooldownReturnsToArmedAfterElapsed(t *testing.T) {
	tw := baseTripwire()
	tw.State = types.StateCooldown
	tw.Attempts = 3
	now := time.Now()
	tw.CooldownUntil = now.Add(-time.Second)

	next, _ := detection.Transition(tw, tradeAt(50000, now), now, detection.DefaultConfig(), detection.Gates{}, detection.MarketSnapshot{Valid: true}, "scavenger")
	require.Equal(t, types.StateArmed, next.State)
	require.Zero(t, next.Attempts)
}

func TestTransitionExpiresOnAge(t *testing.T) {
	tw := baseTripwire()
	tw.CreatedAt = time.Now().Add(-25 * time.Hour)
	now := time.Now()

	next, _ := detection.Transition(tw, tradeAt(50010, now), now, detection.DefaultConfig(), detection.Gates{}, detection.MarketSnapshot{Valid: true}, "scavenger")
	require.Equal(t, types.StateExpired, next.State)
}

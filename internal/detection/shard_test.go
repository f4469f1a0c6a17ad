package detection_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/detection"
	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/pkg/types"
)

type staticGates struct{ g detection.Gates }

func (s staticGates) Gates() detection.Gates { return s.g }

type staticMarket struct{ m detection.MarketSnapshot }

func (s staticMarket) Snapshot(string) detection.MarketSnapshot { return s.m }

type captureSink struct {
	signals chan *types.IntentSignal
}

func newCaptureSink() *captureSink {
	return &captureSink{signals: make(chan *types.IntentSignal, 8)}
}

func (c *captureSink) SubmitIntent(signal *types.IntentSignal) {
	c.signals <- signal
}

func TestShardFiresOnMatchingTrades(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	sink := newCaptureSink()
	market := staticMarket{m: detection.MarketSnapshot{Valid: true, TrendDir: types.DirectionLong, CVDDelta: decimal.NewFromInt(1)}}
	shard := detection.NewShard(zap.NewNop(), "BTCUSDT", detection.DefaultConfig(), staticGates{}, market, bus, sink, "scavenger")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go shard.Run(ctx)

	fresh := map[string]types.Tripwire{}
	tw := baseTripwire()
	fresh[tw.Key()] = tw
	shard.ApplyTripwires(fresh)

	start := time.Now()
	for i := 0; i < 50; i++ {
		shard.Submit(tradeAt(50010, start.Add(time.Duration(i)*time.Millisecond)))
	}

	select {
	case signal := <-sink.signals:
		require.Equal(t, "BTCUSDT", signal.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected an intent signal")
	}
}

func TestShardApplyTripwiresPreservesNonArmedState(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	shard := detection.NewShard(zap.NewNop(), "BTCUSDT", detection.DefaultConfig(), staticGates{}, staticMarket{}, bus, nil, "scavenger")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go shard.Run(ctx)

	activated := baseTripwire()
	activated.State = types.StateActivated
	shard.ApplyTripwires(map[string]types.Tripwire{activated.Key(): activated})

	replacement := baseTripwire()
	replacement.TriggerPrice = decimal.NewFromInt(60000)
	shard.ApplyTripwires(map[string]types.Tripwire{replacement.Key(): replacement})

	snap := shard.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, types.StateActivated, snap[activated.Key()].State)
}

func TestShardSubmitDropsOldestNonMatchingUnderPressure(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	shard := detection.NewShard(zap.NewNop(), "BTCUSDT", detection.DefaultConfig(), staticGates{}, staticMarket{}, bus, nil, "scavenger")
	// Do not start Run, so the queue fills up and Submit must exercise the
	// backpressure path without a consumer draining it.
	for i := 0; i < 2048; i++ {
		require.True(t, shard.Submit(tradeAt(1, time.Now())))
	}
	accepted := shard.Submit(tradeAt(1, time.Now()))
	require.False(t, accepted)
}

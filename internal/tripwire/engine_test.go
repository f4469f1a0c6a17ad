package tripwire_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/data"
	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/internal/tripwire"
)

func TestEngineCycleProducesSnapshotAndEvent(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	received := make(chan *events.TrapMapUpdatedEvent, 1)
	bus.Subscribe(events.TrapMapUpdated, func(e events.Event) error {
		received <- e.(*events.TrapMapUpdatedEvent)
		return nil
	}, events.SubscriptionOptions{})

	cfg := tripwire.DefaultConfig([]string{"BTCUSDT"})
	cfg.UpdateInterval = 10 * time.Millisecond
	cfg.Lookback = 48 * time.Hour

	engine := tripwire.New(zap.NewNop(), cfg, store, bus, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = engine.Run(ctx)

	select {
	case evt := <-received:
		require.GreaterOrEqual(t, evt.TripwireCount, 0)
	case <-time.After(time.Second):
		t.Fatal("expected a TrapMapUpdated event")
	}
}

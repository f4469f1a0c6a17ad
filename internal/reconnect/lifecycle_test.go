package reconnect_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/reconnect"
)

func TestLifecycleSucceedsOnFirstAttempt(t *testing.T) {
	lc := reconnect.New("test", reconnect.Config{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, zap.NewNop())

	var attempts atomic.Int32
	err := lc.Run(context.Background(), func(ctx context.Context) error {
		attempts.Add(1)
		return nil
	})

	require.NoError(t, err)
	require.EqualValues(t, 1, attempts.Load())
	require.Equal(t, reconnect.Disconnected, lc.State())
}

func TestLifecycleRetriesThenFails(t *testing.T) {
	lc := reconnect.New("test", reconnect.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}, zap.NewNop())

	var attempts atomic.Int32
	err := lc.Run(context.Background(), func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("boom")
	})

	require.Error(t, err)
	require.EqualValues(t, 3, attempts.Load())
	require.Equal(t, reconnect.Failed, lc.State())
}

func TestLifecycleStateTransitionsObserved(t *testing.T) {
	lc := reconnect.New("test", reconnect.Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, zap.NewNop())

	var transitions []reconnect.State
	lc.OnStateChange(func(prev, next reconnect.State, attempt int) {
		transitions = append(transitions, next)
	})

	_ = lc.Run(context.Background(), func(ctx context.Context) error { return nil })

	require.Contains(t, transitions, reconnect.Connecting)
	require.Contains(t, transitions, reconnect.Connected)
	require.Contains(t, transitions, reconnect.Disconnected)
}

func TestLifecycleRespectsContextCancellation(t *testing.T) {
	lc := reconnect.New("test", reconnect.Config{BaseDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := lc.Run(ctx, func(ctx context.Context) error {
		return errors.New("always fails")
	})

	require.ErrorIs(t, err, context.Canceled)
}

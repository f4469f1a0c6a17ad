package twap_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/twap"
	"github.com/titan-scanner/core/pkg/types"
)

type fakePlacer struct {
	mu      sync.Mutex
	fills   []decimal.Decimal
	calls   int
	failAt  int
	err     error
}

func (p *fakePlacer) PlaceClip(ctx context.Context, symbol string, side types.OrderSide, qty decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if p.failAt == idx+1 {
		return decimal.Zero, p.err
	}
	if idx < len(p.fills) {
		return p.fills[idx], nil
	}
	return p.fills[len(p.fills)-1], nil
}

type fakeMarks struct{ mark decimal.Decimal }

func (m fakeMarks) Mark(symbol string) decimal.Decimal { return m.mark }

func cfg() twap.Config {
	return twap.Config{
		MaxClipSize: decimal.NewFromFloat(1),
		MinInterval: time.Millisecond,
		MaxInterval: 5 * time.Millisecond,
		MaxSlippage: decimal.NewFromFloat(0.01),
	}
}

func TestRunCompletesAllClipsWithinSlippage(t *testing.T) {
	placer := &fakePlacer{fills: []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(100)}}
	ex := twap.New(zap.NewNop(), placer, fakeMarks{mark: decimal.NewFromInt(100)}, cfg())

	result, err := ex.Run(context.Background(), twap.Request{
		Symbol: "BTCUSDT", Side: types.OrderSideBuy,
		TotalSize: decimal.NewFromFloat(3), Duration: 10 * time.Millisecond,
	})

	require.NoError(t, err)
	require.False(t, result.Aborted)
	require.True(t, result.Filled.Equal(decimal.NewFromFloat(3)))
	require.Len(t, result.Clips, 3)
}

func TestRunAbortsOnSlippageBreach(t *testing.T) {
	placer := &fakePlacer{fills: []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(110)}}
	ex := twap.New(zap.NewNop(), placer, fakeMarks{mark: decimal.NewFromInt(100)}, cfg())

	result, err := ex.Run(context.Background(), twap.Request{
		Symbol: "BTCUSDT", Side: types.OrderSideBuy,
		TotalSize: decimal.NewFromFloat(3), Duration: 10 * time.Millisecond,
	})

	require.NoError(t, err)
	require.True(t, result.Aborted)
	require.Len(t, result.Clips, 2)
	require.True(t, result.Filled.Equal(decimal.NewFromFloat(2)))
}

func TestRunAbortsOnPlacementError(t *testing.T) {
	placer := &fakePlacer{fills: []decimal.Decimal{decimal.NewFromInt(100)}, failAt: 2, err: errors.New("venue unreachable")}
	ex := twap.New(zap.NewNop(), placer, fakeMarks{mark: decimal.NewFromInt(100)}, cfg())

	result, err := ex.Run(context.Background(), twap.Request{
		Symbol: "BTCUSDT", Side: types.OrderSideBuy,
		TotalSize: decimal.NewFromFloat(3), Duration: 10 * time.Millisecond,
	})

	require.NoError(t, err)
	require.True(t, result.Aborted)
	require.Contains(t, result.AbortReason, "venue unreachable")
}

func TestRunFailsFastWhenAlreadyRunning(t *testing.T) {
	placer := &fakePlacer{fills: []decimal.Decimal{decimal.NewFromInt(100)}}
	ex := twap.New(zap.NewNop(), placer, fakeMarks{mark: decimal.NewFromInt(100)}, twap.Config{
		MaxClipSize: decimal.NewFromFloat(1),
		MinInterval: 20 * time.Millisecond,
		MaxInterval: 50 * time.Millisecond,
		MaxSlippage: decimal.NewFromFloat(0.01),
	})

	done := make(chan struct{})
	go func() {
		_, _ = ex.Run(context.Background(), twap.Request{
			Symbol: "BTCUSDT", Side: types.OrderSideBuy,
			TotalSize: decimal.NewFromFloat(3), Duration: 100 * time.Millisecond,
		})
		close(done)
	}()

	require.Eventually(t, ex.IsRunning, 50*time.Millisecond, time.Millisecond)

	_, err := ex.Run(context.Background(), twap.Request{Symbol: "BTCUSDT", TotalSize: decimal.NewFromFloat(1), Duration: time.Millisecond})
	require.ErrorIs(t, err, twap.ErrAlreadyRunning)

	<-done
}

func TestAbortIsIdempotentAndStopsSchedule(t *testing.T) {
	placer := &fakePlacer{fills: []decimal.Decimal{decimal.NewFromInt(100)}}
	ex := twap.New(zap.NewNop(), placer, fakeMarks{mark: decimal.NewFromInt(100)}, twap.Config{
		MaxClipSize: decimal.NewFromFloat(1),
		MinInterval: 20 * time.Millisecond,
		MaxInterval: 50 * time.Millisecond,
		MaxSlippage: decimal.NewFromFloat(0.01),
	})

	resultCh := make(chan *twap.Result, 1)
	go func() {
		result, _ := ex.Run(context.Background(), twap.Request{
			Symbol: "BTCUSDT", Side: types.OrderSideBuy,
			TotalSize: decimal.NewFromFloat(5), Duration: 200 * time.Millisecond,
		})
		resultCh <- result
	}()

	require.Eventually(t, ex.IsRunning, 50*time.Millisecond, time.Millisecond)
	ex.Abort()
	ex.Abort()

	result := <-resultCh
	require.True(t, result.Aborted)
}

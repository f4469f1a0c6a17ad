// Package twap schedules a parent order into time-spaced clips and aborts
// the whole schedule if any single clip's fill slippage breaches its
// limit. Only one schedule may run per Executor at a time.
package twap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/pkg/types"
)

// ErrAlreadyRunning is returned by Run when a schedule is already active.
var ErrAlreadyRunning = errors.New("twap: a schedule is already running")

// ClipPlacer places a single clip order and reports its fill price.
type ClipPlacer interface {
	PlaceClip(ctx context.Context, symbol string, side types.OrderSide, qty decimal.Decimal) (fillPrice decimal.Decimal, err error)
}

// MarkSource supplies the reference mark price a clip's slippage is
// measured against.
type MarkSource interface {
	Mark(symbol string) decimal.Decimal
}

// Config bounds a schedule's clip size, pacing, and slippage tolerance.
type Config struct {
	MaxClipSize decimal.Decimal
	MinInterval time.Duration
	MaxInterval time.Duration
	MaxSlippage decimal.Decimal
}

// Request describes the parent order to schedule.
type Request struct {
	Symbol    string
	Side      types.OrderSide
	TotalSize decimal.Decimal
	Duration  time.Duration
}

// ClipResult is one placed clip's outcome.
type ClipResult struct {
	Qty       decimal.Decimal
	FillPrice decimal.Decimal
	Mark      decimal.Decimal
	Slippage  decimal.Decimal
	PlacedAt  time.Time
}

// Result is the outcome of a full (or aborted) schedule.
type Result struct {
	Symbol      string
	Side        types.OrderSide
	Requested   decimal.Decimal
	Filled      decimal.Decimal
	Clips       []ClipResult
	Aborted     bool
	AbortReason string
}

// Executor runs at most one TWAP schedule at a time.
type Executor struct {
	logger  *zap.Logger
	placer  ClipPlacer
	marks   MarkSource
	cfg     Config
	running atomic.Bool

	mu      sync.Mutex
	abortCh chan struct{}
}

// New builds an Executor.
func New(logger *zap.Logger, placer ClipPlacer, marks MarkSource, cfg Config) *Executor {
	return &Executor{
		logger: logger.Named("twap"),
		placer: placer,
		marks:  marks,
		cfg:    cfg,
	}
}

// Run schedules req's clips sequentially. It fails fast with
// ErrAlreadyRunning if another schedule is in flight; it never queues a
// second schedule behind the first.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.mu.Lock()
	e.abortCh = make(chan struct{})
	abortCh := e.abortCh
	e.mu.Unlock()

	numClips := clipCount(req.TotalSize, e.cfg.MaxClipSize)
	interval := clipInterval(req.Duration, numClips, e.cfg.MinInterval, e.cfg.MaxInterval)

	result := &Result{Symbol: req.Symbol, Side: req.Side, Requested: req.TotalSize}
	remaining := req.TotalSize

	for i := 0; i < numClips && remaining.IsPositive(); i++ {
		select {
		case <-ctx.Done():
			result.Aborted = true
			result.AbortReason = ctx.Err().Error()
			return result, nil
		case <-abortCh:
			result.Aborted = true
			result.AbortReason = "aborted"
			return result, nil
		default:
		}

		clipQty := decimal.Min(e.cfg.MaxClipSize, remaining)
		fillPrice, err := e.placer.PlaceClip(ctx, req.Symbol, req.Side, clipQty)
		if err != nil {
			result.Aborted = true
			result.AbortReason = fmt.Sprintf("clip placement failed: %v", err)
			return result, nil
		}

		mark := e.marks.Mark(req.Symbol)
		slippage := decimal.Zero
		if !mark.IsZero() {
			slippage = fillPrice.Sub(mark).Div(mark)
		}

		result.Clips = append(result.Clips, ClipResult{
			Qty:       clipQty,
			FillPrice: fillPrice,
			Mark:      mark,
			Slippage:  slippage,
			PlacedAt:  time.Now(),
		})
		result.Filled = result.Filled.Add(clipQty)
		remaining = remaining.Sub(clipQty)

		if slippage.Abs().GreaterThan(e.cfg.MaxSlippage) {
			result.Aborted = true
			result.AbortReason = fmt.Sprintf("clip slippage %s exceeds max %s", slippage, e.cfg.MaxSlippage)
			e.logger.Warn("twap schedule aborted on slippage",
				zap.String("symbol", req.Symbol), zap.String("slippage", slippage.String()))
			return result, nil
		}

		if remaining.IsZero() || i == numClips-1 {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			result.Aborted = true
			result.AbortReason = ctx.Err().Error()
			return result, nil
		case <-abortCh:
			result.Aborted = true
			result.AbortReason = "aborted"
			return result, nil
		}
	}

	return result, nil
}

// Abort cancels the in-flight schedule, if any. Idempotent: aborting an
// already-aborted or finished schedule is a no-op.
func (e *Executor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abortCh == nil {
		return
	}
	select {
	case <-e.abortCh:
	default:
		close(e.abortCh)
	}
}

// IsRunning reports whether a schedule is currently in flight.
func (e *Executor) IsRunning() bool {
	return e.running.Load()
}

func clipCount(total, maxClip decimal.Decimal) int {
	if maxClip.IsZero() || total.IsZero() {
		return 1
	}
	ratio, _ := total.Div(maxClip).Float64()
	return int(math.Ceil(ratio))
}

func clipInterval(duration time.Duration, numClips int, minInterval, maxInterval time.Duration) time.Duration {
	if numClips <= 1 {
		return minInterval
	}
	interval := duration / time.Duration(numClips)
	if interval < minInterval {
		return minInterval
	}
	if interval > maxInterval {
		return maxInterval
	}
	return interval
}

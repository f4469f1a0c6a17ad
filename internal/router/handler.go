package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/ipc"
	"github.com/titan-scanner/core/pkg/types"
)

// staged is a signal admitted at PREPARE, held until CONFIRM or ABORT.
type staged struct {
	signal  *types.IntentSignal
	venue   string
	expires time.Time
}

// FillHandler is notified of every filled child order dispatched through a
// Handler's CONFIRM, so a portfolio tracker can stay current without the
// router package depending on internal/portfolio.
type FillHandler func(signal *types.IntentSignal, result OrderResult)

// Handler implements ipc.Handler on top of a Router, giving the execution
// service side of the signed-intent fast path somewhere real to route an
// intent once it is confirmed. PREPARE stages the signal and checks the
// same gates Route would; CONFIRM dispatches it; ABORT discards the stage.
// Both CONFIRM and ABORT are idempotent from ipc.Server's perspective, so
// Handler only needs to be correct the first time each signal_id arrives.
type Handler struct {
	logger *zap.Logger
	router *Router
	onFill FillHandler

	mu     sync.Mutex
	staged map[string]staged
	ttl    time.Duration
}

// NewHandler builds a Handler dispatching confirmed signals through router.
func NewHandler(logger *zap.Logger, router *Router, ttl time.Duration) *Handler {
	return &Handler{
		logger: logger.Named("router-handler"),
		router: router,
		staged: make(map[string]staged),
		ttl:    ttl,
	}
}

// SetOnFill registers the callback invoked after every filled child order.
func (h *Handler) SetOnFill(fn FillHandler) {
	h.onFill = fn
}

// Prepare stages signal for a later CONFIRM, rejecting it up front if the
// router's gates are already closed.
func (h *Handler) Prepare(ctx context.Context, payload *ipc.PreparePayload) (*ipc.PrepareResponse, error) {
	signal := payload.Signal
	if err := h.router.checkGates(signal); err != nil {
		return &ipc.PrepareResponse{Prepared: false, SignalID: signal.SignalID, Reason: err.Error()}, nil
	}

	h.mu.Lock()
	h.staged[signal.SignalID] = staged{signal: signal, expires: time.Now().Add(h.ttl)}
	h.mu.Unlock()

	size := signal.Size
	return &ipc.PrepareResponse{Prepared: true, SignalID: signal.SignalID, PositionSize: &size}, nil
}

// Confirm dispatches a previously prepared signal through the router.
func (h *Handler) Confirm(ctx context.Context, signalID string) (*ipc.ConfirmResponse, error) {
	h.mu.Lock()
	entry, ok := h.staged[signalID]
	delete(h.staged, signalID)
	h.mu.Unlock()

	if !ok {
		return &ipc.ConfirmResponse{Executed: false, Reason: "not_prepared"}, nil
	}
	if time.Now().After(entry.expires) {
		return &ipc.ConfirmResponse{Executed: false, Reason: "expired"}, nil
	}

	results, err := h.router.Route(ctx, entry.signal, entry.venue)
	if err != nil {
		return &ipc.ConfirmResponse{Executed: false, Reason: err.Error()}, nil
	}

	first := -1
	for i, r := range results {
		if !r.Filled {
			continue
		}
		if h.onFill != nil {
			h.onFill(entry.signal, r)
		}
		if first < 0 {
			first = i
		}
	}
	if first >= 0 {
		price := results[first].FillPrice
		return &ipc.ConfirmResponse{Executed: true, FillPrice: &price}, nil
	}
	return &ipc.ConfirmResponse{Executed: false, Reason: "no_fill"}, nil
}

// Abort discards a previously prepared signal without dispatching it.
func (h *Handler) Abort(ctx context.Context, signalID string) (*ipc.AbortResponse, error) {
	h.mu.Lock()
	_, ok := h.staged[signalID]
	delete(h.staged, signalID)
	h.mu.Unlock()

	h.logger.Info("intent aborted", zap.String("signalId", signalID), zap.Bool("wasStaged", ok))
	return &ipc.AbortResponse{Aborted: true}, nil
}

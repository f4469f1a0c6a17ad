package phase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/ipc"
	"github.com/titan-scanner/core/pkg/types"
)

// IntentDispatcher drives the PREPARE -> CONFIRM handshake over an
// ipc.Client for every fired signal, implementing detection.IntentSink.
// SubmitIntent never blocks the shard that calls it: the handshake runs on
// its own goroutine and logs its outcome.
type IntentDispatcher struct {
	logger   *zap.Logger
	client   *ipc.Client
	deadline time.Duration
}

// NewIntentDispatcher wires client as the fast-path transport for fired
// signals.
func NewIntentDispatcher(logger *zap.Logger, client *ipc.Client, deadline time.Duration) *IntentDispatcher {
	return &IntentDispatcher{logger: logger.Named("intent-dispatcher"), client: client, deadline: deadline}
}

// SubmitIntent implements detection.IntentSink.
func (d *IntentDispatcher) SubmitIntent(signal *types.IntentSignal) {
	go d.run(signal)
}

func (d *IntentDispatcher) run(signal *types.IntentSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), d.deadline)
	defer cancel()

	prepared, err := d.client.Prepare(ctx, &ipc.PreparePayload{Signal: signal}, signal.SignalID)
	if err != nil {
		d.logger.Error("prepare failed", zap.String("signalId", signal.SignalID), zap.Error(err))
		return
	}
	if !prepared.Prepared {
		d.logger.Warn("prepare rejected", zap.String("signalId", signal.SignalID), zap.String("reason", prepared.Reason))
		return
	}

	confirmed, err := d.client.Confirm(ctx, signal.SignalID)
	if err != nil {
		d.logger.Error("confirm failed", zap.String("signalId", signal.SignalID), zap.Error(err))
		if _, abortErr := d.client.Abort(ctx, signal.SignalID); abortErr != nil {
			d.logger.Error("abort after failed confirm also failed", zap.String("signalId", signal.SignalID), zap.Error(abortErr))
		}
		return
	}

	d.logger.Info("signal confirmed",
		zap.String("signalId", signal.SignalID),
		zap.Bool("executed", confirmed.Executed),
		zap.String("reason", confirmed.Reason),
	)
}

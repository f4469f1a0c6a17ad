package ipc

import (
	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// PreparePayload carries the full signal for the server's admission check.
type PreparePayload struct {
	Signal *types.IntentSignal `json:"signal"`
}

// PrepareResponse is the server's PREPARE verdict.
type PrepareResponse struct {
	Prepared     bool             `json:"prepared"`
	SignalID     string           `json:"signal_id"`
	PositionSize *decimal.Decimal `json:"position_size,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

// ConfirmPayload requests execution of a previously prepared signal.
type ConfirmPayload struct {
	SignalID string `json:"signal_id"`
}

// ConfirmResponse is the server's CONFIRM verdict.
type ConfirmResponse struct {
	Executed  bool             `json:"executed"`
	FillPrice *decimal.Decimal `json:"fill_price,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// AbortPayload withdraws a previously prepared signal.
type AbortPayload struct {
	SignalID string `json:"signal_id"`
}

// AbortResponse acknowledges an ABORT.
type AbortResponse struct {
	Aborted bool `json:"aborted"`
}

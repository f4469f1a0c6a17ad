package router

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/pkg/types"
)

// MarkSource supplies the current mark price a PaperAdapter fills
// against. Venue REST wire formats are out of scope beyond rest_adapter.go's
// generic signed-request shape, so simulated fills off a live mark are the
// execution path every other component (the TWAP executor included) relies
// on when no real venue connection is configured.
type MarkSource interface {
	Mark(symbol string) decimal.Decimal
}

// PaperAdapter fills every order against the current mark with a fixed
// slippage bias against the taker, for dry-run/ghost-mode routing and for
// any venue without real credentials configured.
type PaperAdapter struct {
	venue    string
	logger   *zap.Logger
	marks    MarkSource
	slippage decimal.Decimal
}

// NewPaperAdapter builds a PaperAdapter for venue, quoting marks off marks
// and applying half of slippage against the taker side.
func NewPaperAdapter(venue string, logger *zap.Logger, marks MarkSource, slippage decimal.Decimal) *PaperAdapter {
	return &PaperAdapter{venue: venue, logger: logger.Named("paper-" + venue), marks: marks, slippage: slippage}
}

// Venue returns this adapter's venue name.
func (p *PaperAdapter) Venue() string { return p.venue }

// PlaceOrder fills intent immediately at the current mark adjusted by half
// the configured slippage.
func (p *PaperAdapter) PlaceOrder(ctx context.Context, intent types.OrderIntent) (OrderResult, error) {
	mark := p.marks.Mark(intent.Symbol)
	if mark.IsZero() {
		return OrderResult{}, fmt.Errorf("router: paper adapter %s: no mark for %s", p.venue, intent.Symbol)
	}

	bias := p.slippage.Div(decimal.NewFromInt(2))
	fillPrice := mark
	if intent.Side == types.OrderSideBuy {
		fillPrice = mark.Mul(decimal.NewFromInt(1).Add(bias))
	} else {
		fillPrice = mark.Mul(decimal.NewFromInt(1).Sub(bias))
	}

	p.logger.Debug("paper fill",
		zap.String("clientOrderId", intent.ClientOrderID),
		zap.String("symbol", intent.Symbol),
		zap.String("fillPrice", fillPrice.String()),
	)

	return OrderResult{
		Venue:         p.venue,
		ClientOrderID: intent.ClientOrderID,
		Filled:        true,
		FillPrice:     fillPrice,
	}, nil
}

package phase

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/router"
	"github.com/titan-scanner/core/pkg/types"
)

// MarkBoard tracks the last traded price per symbol from the live feed,
// serving both the execution router's paper fills and the TWAP executor's
// slippage checks off one shared view of the market.
type MarkBoard struct {
	mu    sync.RWMutex
	marks map[string]decimal.Decimal
}

// NewMarkBoard builds an empty board.
func NewMarkBoard() *MarkBoard {
	return &MarkBoard{marks: make(map[string]decimal.Decimal)}
}

// OnTrade implements market.TradeHandler.
func (b *MarkBoard) OnTrade(venue string, trade types.Trade) {
	b.mu.Lock()
	b.marks[trade.Symbol] = trade.Price
	b.mu.Unlock()
}

// Mark implements both router.MarkSource and twap.MarkSource.
func (b *MarkBoard) Mark(symbol string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.marks[symbol]
}

var _ router.MarkSource = (*MarkBoard)(nil)

// PaperClipPlacer implements twap.ClipPlacer on top of a MarkBoard, the
// same simulated-fill shape PaperAdapter gives the execution router, since
// a real venue connection for scheduled transfer/rebalance clips is out of
// scope.
type PaperClipPlacer struct {
	logger   *zap.Logger
	marks    *MarkBoard
	slippage decimal.Decimal
}

// NewPaperClipPlacer builds a placer quoting marks off board.
func NewPaperClipPlacer(logger *zap.Logger, board *MarkBoard, slippage decimal.Decimal) *PaperClipPlacer {
	return &PaperClipPlacer{logger: logger.Named("twap-paper"), marks: board, slippage: slippage}
}

// PlaceClip implements twap.ClipPlacer.
func (p *PaperClipPlacer) PlaceClip(ctx context.Context, symbol string, side types.OrderSide, qty decimal.Decimal) (decimal.Decimal, error) {
	mark := p.marks.Mark(symbol)
	bias := p.slippage.Div(decimal.NewFromInt(2))
	fillPrice := mark
	if side == types.OrderSideBuy {
		fillPrice = mark.Mul(decimal.NewFromInt(1).Add(bias))
	} else {
		fillPrice = mark.Mul(decimal.NewFromInt(1).Sub(bias))
	}
	p.logger.Debug("paper clip fill", zap.String("symbol", symbol), zap.String("qty", qty.String()), zap.String("fillPrice", fillPrice.String()))
	return fillPrice, nil
}

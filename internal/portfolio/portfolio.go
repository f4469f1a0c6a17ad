// Package portfolio tracks per-symbol spot/perp exposure and derives the
// health snapshot the risk manager and rebalancer evaluate each cycle.
package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/pkg/types"
)

// Tracker maintains symbol -> Position and derives HealthReport on demand.
type Tracker struct {
	logger *zap.Logger

	mu        sync.RWMutex
	positions map[string]*types.Position
	alerts    []types.Alert
}

// New builds an empty Tracker.
func New(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:    logger.Named("portfolio"),
		positions: make(map[string]*types.Position),
	}
}

// UpdateSize applies a spot/perp size delta for symbol at the given marks
// and returns the resulting position. deltaSpot/deltaPerp may be negative.
func (t *Tracker) UpdateSize(symbol string, deltaSpot, deltaPerp, spotPrice, perpPrice decimal.Decimal) *types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		pos = &types.Position{Symbol: symbol, Type: types.PositionTypeSpotPerp}
		t.positions[symbol] = pos
	}

	pos.SpotEntry = nextEntry(pos.SpotSize, pos.SpotEntry, deltaSpot, spotPrice)
	pos.SpotSize = pos.SpotSize.Add(deltaSpot)

	pos.PerpEntry = nextEntry(pos.PerpSize, pos.PerpEntry, deltaPerp, perpPrice)
	pos.PerpSize = pos.PerpSize.Add(deltaPerp)

	if !spotPrice.IsZero() {
		pos.CurrentBasis = perpPrice.Sub(spotPrice).Div(spotPrice)
	}
	if pos.EntryBasis.IsZero() && !pos.CurrentBasis.IsZero() && pos.SpotSize.Equal(deltaSpot) {
		pos.EntryBasis = pos.CurrentBasis
	}

	spotPnL := pos.SpotSize.Mul(spotPrice.Sub(pos.SpotEntry))
	perpPnL := pos.PerpSize.Mul(perpPrice.Sub(pos.PerpEntry))
	pos.UnrealizedPnL = spotPnL.Add(perpPnL)
	pos.UpdatedAt = time.Now()

	return pos
}

// nextEntry implements the size-weighted entry update: a leg being added
// to (same sign as the existing size, or growing from zero) blends its
// entry price; a leg that closes to exactly zero resets its entry to zero,
// and a leg that crosses zero restarts its entry at mark.
func nextEntry(oldSize, oldEntry, delta, mark decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return oldEntry
	}
	newSize := oldSize.Add(delta)

	if newSize.IsZero() {
		return decimal.Zero
	}
	if oldSize.Sign() != 0 && newSize.Sign() != oldSize.Sign() {
		// Crossed zero: the old leg is fully closed and a new one opened
		// at mark.
		return mark
	}

	numerator := oldSize.Mul(oldEntry).Add(delta.Abs().Mul(mark))
	return numerator.Div(newSize.Abs())
}

// Position returns a copy of symbol's current position, or false if none
// exists.
func (t *Tracker) Position(symbol string) (types.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// RaiseAlert records an operational or risk alert surfaced in the next
// HealthReport.
func (t *Tracker) RaiseAlert(severity types.RiskStatus, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerts = append(t.alerts, types.Alert{Severity: severity, Message: message, Timestamp: time.Now()})
}

// BuildHealthReport aggregates NAV, delta, and margin utilization across
// every tracked position. riskStatus is supplied by the risk manager's
// Evaluate, since that classification depends on inputs (drawdown,
// volatility, liquidity) the tracker itself does not own.
func (t *Tracker) BuildHealthReport(cash, marginUsed, marginTotal decimal.Decimal, riskStatus types.RiskStatus) types.HealthReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nav := cash
	delta := decimal.Zero
	gross := decimal.Zero
	snapshot := make(map[string]types.Position, len(t.positions))

	for symbol, pos := range t.positions {
		nav = nav.Add(pos.UnrealizedPnL)
		delta = delta.Add(pos.SpotSize.Add(pos.PerpSize).Mul(pos.SpotEntry))
		gross = gross.Add(pos.SpotSize.Abs().Add(pos.PerpSize.Abs()).Mul(pos.SpotEntry))
		snapshot[symbol] = *pos
	}

	marginUtilization := decimal.Zero
	if !marginTotal.IsZero() {
		marginUtilization = marginUsed.Div(marginTotal)
	}

	return types.HealthReport{
		NAV:               nav,
		Delta:             delta,
		MarginUtilization: marginUtilization,
		RiskStatus:        riskStatus,
		Positions:         snapshot,
		Alerts:            append([]types.Alert(nil), t.alerts...),
		Equity:            nav,
		GrossNotional:     gross,
		GeneratedAt:       time.Now(),
	}
}

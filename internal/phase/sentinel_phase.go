package phase

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/audit"
	"github.com/titan-scanner/core/internal/config"
	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/internal/health"
	"github.com/titan-scanner/core/internal/ipc"
	"github.com/titan-scanner/core/internal/market"
	"github.com/titan-scanner/core/internal/portfolio"
	"github.com/titan-scanner/core/internal/reconnect"
	"github.com/titan-scanner/core/internal/rebalancer"
	"github.com/titan-scanner/core/internal/risk"
	"github.com/titan-scanner/core/internal/router"
	"github.com/titan-scanner/core/internal/stats"
	"github.com/titan-scanner/core/internal/twap"
	"github.com/titan-scanner/core/pkg/types"
)

// defaultLiquidityScore stands in for a venue order-book depth feed, which
// is out of scope (spec.md §1's venue-REST-format boundary): the risk
// manager still needs a liquidity score each cycle, so a fixed
// conservative reading is reported rather than fabricated telemetry.
const defaultLiquidityScore = 50.0

// fillAuditEntry is the JSONL shape audit.Writer appends for every
// confirmed child order Sentinel's router fills.
type fillAuditEntry struct {
	Type      string `json:"type"`
	SignalID  string `json:"signalId"`
	Symbol    string `json:"symbol"`
	Venue     string `json:"venue"`
	Direction string `json:"direction"`
	Size      string `json:"size"`
	FillPrice string `json:"fillPrice"`
}

// rebalanceAuditEntry is the JSONL shape logged whenever the control loop
// dispatches a rebalancer action through the TWAP executor.
type rebalanceAuditEntry struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// SentinelPhaseConfig is what cmd/sentinel supplies to run the
// portfolio/risk/rebalancer/TWAP control loop plus the execution side of
// the signed-intent fast path.
type SentinelPhaseConfig struct {
	Symbols           []string
	Venue             string
	FeedURL           string
	DataDir           string
	Venues            []string // venues the paper router can fill against
	IPCAddress        string   // unix domain socket path to listen on
	StartingEquity    decimal.Decimal
	MaxLeverage       decimal.Decimal
	RebalanceInterval time.Duration
}

// SentinelPhase bundles the running control loop for main to wait on.
type SentinelPhase struct {
	Tracker *portfolio.Tracker
	Router  *router.Router
	IPC     *ipc.Server
	Market  *market.Manager
	Handler *router.Handler
	Audit   *audit.Writer
}

type sentinelLoop struct {
	logger     *zap.Logger
	tracker    *portfolio.Tracker
	volWindows *stats.Registry
	gates      *Gates
	riskCfg    risk.Config
	rebalCfg   rebalancer.Config
	twapExec   *twap.Executor
	audit      *audit.Writer
	equity     decimal.Decimal
	maxLev     decimal.Decimal

	mu          sync.Mutex
	peakNAV     decimal.Decimal
	lastGross   decimal.Decimal
	baselineNAV decimal.Decimal
}

// RunSentinelPhase wires the portfolio tracker, risk evaluation,
// rebalancer, TWAP executor, execution router (paper venue adapters), and
// the signed-intent server, then starts every component's goroutine.
func RunSentinelPhase(ctx context.Context, logger *zap.Logger, cfg SentinelPhaseConfig, registry *config.Registry, bus *events.Bus, monitor *health.Monitor, ipcKey []byte) (*SentinelPhase, error) {
	auditWriter, err := NewAuditWriter(logger, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("phase: open audit log: %w", err)
	}

	gates := NewGates(registry)
	board := NewMarkBoard()
	volWindows := stats.NewRegistry(60)

	marketMgr := market.NewManager(logger)
	feed := marketMgr.AddFeed(market.FeedConfig{
		Venue:     cfg.Venue,
		WSURL:     cfg.FeedURL,
		Symbols:   cfg.Symbols,
		Intervals: []string{"1m"},
		Reconnect: reconnect.DefaultConfig(),
	}, func(venue string, trade types.Trade) {
		board.OnTrade(venue, trade)
		volWindows.GetOrCreate(trade.Symbol).Add(trade.Price.InexactFloat64())
	}, nil)
	monitor.Register(cfg.Venue)
	go pollFeedState(ctx, feed, cfg.Venue, monitor)
	go marketMgr.Run(ctx)

	adapters := make([]router.VenueAdapter, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		adapters = append(adapters, router.NewPaperAdapter(v, logger, board, decimal.NewFromFloat(0.001)))
	}
	routerCfg := router.DefaultConfig()
	execRouter := router.New(logger, routerCfg, adapters)
	execRouter.SetGates(gates.RouterGates())

	handler := router.NewHandler(logger, execRouter, routerCfg.IntentTTL)

	tracker := portfolio.New(logger)
	handler.SetOnFill(func(signal *types.IntentSignal, result router.OrderResult) {
		qty := signal.Size
		if signal.Direction == types.DirectionShort {
			qty = qty.Neg()
		}
		tracker.UpdateSize(signal.Symbol, decimal.Zero, qty, decimal.Zero, result.FillPrice)
		if err := auditWriter.Append(fillAuditEntry{
			Type:      "fill",
			SignalID:  signal.SignalID,
			Symbol:    signal.Symbol,
			Venue:     result.Venue,
			Direction: string(signal.Direction),
			Size:      signal.Size.String(),
			FillPrice: result.FillPrice.String(),
		}); err != nil {
			logger.Error("write audit entry", zap.Error(err))
		}
	})

	twapPlacer := NewPaperClipPlacer(logger, board, decimal.NewFromFloat(0.001))
	twapExec := twap.New(logger, twapPlacer, board, twap.Config{
		MaxClipSize: decimal.NewFromFloat(0.5),
		MinInterval: 2 * time.Second,
		MaxInterval: 10 * time.Second,
		MaxSlippage: decimal.NewFromFloat(0.01),
	})

	loop := &sentinelLoop{
		logger:      logger.Named("sentinel-loop"),
		tracker:     tracker,
		volWindows:  volWindows,
		gates:       gates,
		riskCfg:     risk.DefaultConfig(),
		rebalCfg:    rebalancer.DefaultConfig(),
		twapExec:    twapExec,
		audit:       auditWriter,
		equity:      cfg.StartingEquity,
		maxLev:      cfg.MaxLeverage,
		peakNAV:     cfg.StartingEquity,
		baselineNAV: cfg.StartingEquity,
	}
	go loop.run(ctx, cfg.RebalanceInterval)

	os.Remove(cfg.IPCAddress)
	ln, err := net.Listen("unix", cfg.IPCAddress)
	if err != nil {
		return nil, fmt.Errorf("phase: listen on %s: %w", cfg.IPCAddress, err)
	}
	ipcServer := ipc.NewServer(logger, ipcKey, handler)
	monitor.Register("sentinel-ipc")
	monitor.Update("sentinel-ipc", reconnect.Connected)
	go func() {
		if err := ipcServer.Serve(ctx, ln); err != nil && ctx.Err() == nil {
			logger.Error("ipc server stopped", zap.Error(err))
		}
	}()

	return &SentinelPhase{Tracker: tracker, Router: execRouter, IPC: ipcServer, Market: marketMgr, Handler: handler, Audit: auditWriter}, nil
}

func (l *sentinelLoop) volatilityScore(symbol string) decimal.Decimal {
	w := l.volWindows.Get(symbol)
	if w == nil || w.Mean() == 0 {
		return decimal.NewFromInt(50)
	}
	cv := w.StdDev() / w.Mean()
	score := cv * 1000
	if score > 100 {
		score = 100
	}
	return decimal.NewFromFloat(score)
}

func (l *sentinelLoop) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

func (l *sentinelLoop) cycle(ctx context.Context) {
	l.mu.Lock()
	marginUsed := l.lastGross
	l.mu.Unlock()

	marginTotal := l.equity.Mul(l.maxLev)

	preliminary := l.tracker.BuildHealthReport(l.equity, marginUsed, marginTotal, types.RiskHealthy)

	l.mu.Lock()
	if preliminary.NAV.GreaterThan(l.peakNAV) {
		l.peakNAV = preliminary.NAV
	}
	peak := l.peakNAV
	baseline := l.baselineNAV
	l.mu.Unlock()

	drawdown := decimal.Zero
	if peak.IsPositive() && preliminary.NAV.LessThan(peak) {
		drawdown = peak.Sub(preliminary.NAV).Div(peak)
	}

	liquidity := decimal.NewFromFloat(defaultLiquidityScore)
	volatility := l.volatilityScore("BTCUSDT")

	result := risk.Evaluate(preliminary, preliminary.Equity, drawdown, volatility, liquidity, l.riskCfg)
	if !result.WithinLimits {
		l.logger.Warn("risk violations", zap.Strings("violations", result.Violations), zap.String("status", string(result.Status)))
	}

	report := l.tracker.BuildHealthReport(l.equity, marginUsed, marginTotal, result.Status)
	l.mu.Lock()
	l.lastGross = report.GrossNotional
	l.mu.Unlock()

	action := rebalancer.Decide(report, baseline, l.rebalCfg)
	if action == nil {
		return
	}

	l.logger.Info("rebalance action", zap.String("type", string(action.Type)), zap.String("amount", action.Amount.String()), zap.String("reason", action.Reason))
	if err := l.audit.Append(rebalanceAuditEntry{
		Type:   "rebalance",
		Action: string(action.Type),
		Amount: action.Amount.String(),
		Reason: action.Reason,
	}); err != nil {
		l.logger.Error("write audit entry", zap.Error(err))
	}

	side := types.OrderSideBuy
	if action.Type == rebalancer.ActionCompound || action.Type == rebalancer.ActionHardCompound {
		side = types.OrderSideSell
	}
	if l.twapExec.IsRunning() {
		l.logger.Warn("skipping rebalance action: a TWAP schedule is already running")
		return
	}
	twapRes, err := l.twapExec.Run(ctx, twap.Request{
		Symbol:    "BTCUSDT",
		Side:      side,
		TotalSize: action.Amount,
		Duration:  2 * time.Minute,
	})
	if err != nil {
		l.logger.Error("twap schedule failed", zap.Error(err))
		return
	}
	if twapRes.Aborted {
		l.logger.Warn("twap schedule aborted", zap.String("reason", twapRes.AbortReason))
	}
}

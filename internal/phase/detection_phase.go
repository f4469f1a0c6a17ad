package phase

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/config"
	"github.com/titan-scanner/core/internal/data"
	"github.com/titan-scanner/core/internal/detection"
	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/internal/health"
	"github.com/titan-scanner/core/internal/ipc"
	"github.com/titan-scanner/core/internal/market"
	"github.com/titan-scanner/core/internal/reconnect"
	"github.com/titan-scanner/core/internal/tripwire"
	"github.com/titan-scanner/core/internal/workers"
	"github.com/titan-scanner/core/pkg/types"
)

// DetectionPhaseConfig is what Scavenger and Hunter each supply to run the
// shared tripwire-precompute + detection + signed-intent pipeline; the two
// binaries differ only in name, symbol set, and IPC dial target.
type DetectionPhaseConfig struct {
	Name        string // "scavenger" or "hunter"; used as the intent source tag
	Symbols     []string
	Venue       string // venue whose feed this phase subscribes to
	FeedURL     string
	DataDir     string
	IPCAddress  string                // unix domain socket path
	Calculators []tripwire.Calculator // nil selects the full standard set
}

// DetectionPhase bundles the running components of one phase so main can
// register health checks and wait for shutdown.
type DetectionPhase struct {
	Engine  *tripwire.Engine
	Manager *detection.Manager
	Market  *market.Manager
	Client  *ipc.Client
}

// RunDetectionPhase wires a full tripwire-precompute + detection +
// signed-intent pipeline and starts every component's goroutine. It
// returns once everything is running; callers wait on ctx.Done().
func RunDetectionPhase(ctx context.Context, logger *zap.Logger, cfg DetectionPhaseConfig, registry *config.Registry, bus *events.Bus, monitor *health.Monitor, ipcKey []byte) (*DetectionPhase, error) {
	store, err := data.NewStore(logger, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("phase: init data store: %w", err)
	}

	source := NewLiveMarketSource()

	pool := workers.NewPool(logger, workers.DefaultPoolConfig(cfg.Name+"-tripwire"))
	pool.Start()

	twCfg := tripwire.DefaultConfig(cfg.Symbols)
	var engine *tripwire.Engine
	if cfg.Calculators != nil {
		engine = tripwire.NewWithCalculators(logger, twCfg, store, bus, source, pool, cfg.Calculators)
	} else {
		engine = tripwire.New(logger, twCfg, store, bus, source, pool)
	}

	gates := NewGates(registry)

	detCfg := detection.DefaultConfig()
	dialer := func(dialCtx context.Context) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(dialCtx, "unix", cfg.IPCAddress)
	}
	client := ipc.NewClient(logger, dialer, ipcKey, reconnect.DefaultConfig())
	dispatcher := NewIntentDispatcher(logger, client, detCfg.IntentTTL)

	manager := detection.NewManager(logger, detCfg, gates, source, bus, dispatcher, cfg.Name)

	marketMgr := market.NewManager(logger)
	feed := marketMgr.AddFeed(market.FeedConfig{
		Venue:     cfg.Venue,
		WSURL:     cfg.FeedURL,
		Symbols:   cfg.Symbols,
		Intervals: []string{"1m"},
		Reconnect: reconnect.DefaultConfig(),
	}, func(venue string, trade types.Trade) {
		source.OnTrade(venue, trade)
		manager.Dispatch(ctx, trade)
	}, nil)

	monitor.Register(cfg.Venue)
	go pollFeedState(ctx, feed, cfg.Venue, monitor)

	bus.Subscribe(events.TrapMapUpdated, func(events.Event) error {
		manager.ApplyTripwires(ctx, engine.Snapshot())
		return nil
	})

	monitor.Register(cfg.Name + "-ipc")
	go pollClientState(ctx, client, cfg.Name+"-ipc", monitor)
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ipc client stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("tripwire engine stopped", zap.Error(err))
		}
	}()

	go marketMgr.Run(ctx)

	return &DetectionPhase{Engine: engine, Manager: manager, Market: marketMgr, Client: client}, nil
}

func pollFeedState(ctx context.Context, feed *market.Feed, name string, monitor *health.Monitor) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.Update(name, feed.State())
		}
	}
}

func pollClientState(ctx context.Context, client *ipc.Client, name string, monitor *health.Monitor) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.Update(name, client.State())
		}
	}
}

// Package main runs the Hunter phase: the structural tripwire family (FVG,
// order block, liquidity pool) over a tighter high-conviction watchlist,
// dispatching signed intents to Sentinel over the fast path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/internal/market"
	"github.com/titan-scanner/core/internal/phase"
	"github.com/titan-scanner/core/internal/tripwire"
)

const exitConfigError = 1
const exitRuntimeError = 2
const exitSIGINT = 130

var (
	configPath string
	headless   bool
	logLevel   string
	httpAddr   string
	venue      string
	symbols    []string
	ipcAddr    string
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "hunter",
		Short: "Hunter runs the structural tripwire and detection pipeline over a focused watchlist",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (defaults under TITAN_CONFIG_DIR or ~/.titan-scanner)")
	root.PersistentFlags().BoolVar(&headless, "headless", envBool("HEADLESS_MODE"), "disable TUI, emit JSON logs")
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&httpAddr, "http-addr", ":9102", "health/metrics HTTP listen address")
	root.PersistentFlags().StringVar(&venue, "venue", "binance", "venue to subscribe market data from")
	root.PersistentFlags().StringSliceVar(&symbols, "symbols", defaultHunterSymbols(), "symbols to watch")
	root.PersistentFlags().StringVar(&ipcAddr, "ipc-addr", envOrDefault("TITAN_IPC_ADDR", "/tmp/titan-sentinel.sock"), "Sentinel IPC unix socket path")

	exitCode := 0
	root.RunE = func(cmd *cobra.Command, args []string) error {
		exitCode = runHunter()
		return nil
	}
	if err := root.Execute(); err != nil {
		return exitConfigError
	}
	return exitCode
}

func runHunter() int {
	logger, err := phase.NewLogger(logLevel, headless)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hunter: build logger:", err)
		return exitConfigError
	}
	defer logger.Sync()

	dir := phase.ConfigDir(configPath)
	creds, err := phase.LoadCredentials(dir, []string{venue})
	if err != nil {
		logger.Error("load credentials", zap.Error(err))
		return exitConfigError
	}
	if _, ok := creds[venue]; !ok {
		logger.Warn("no credentials loaded for venue; running in observe-only mode", zap.String("venue", venue))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(logger, events.DefaultConfig())
	registry := phase.NewConfigRegistry(logger, bus)

	srv := phase.NewServer(httpAddr)
	errCh := make(chan error, 1)
	srv.Start(errCh)
	defer srv.Stop()

	feedCfg := market.DefaultFeedConfig(venue, symbols)

	detectionPhase, err := phase.RunDetectionPhase(ctx, logger, phase.DetectionPhaseConfig{
		Name:       "hunter",
		Symbols:    symbols,
		Venue:      venue,
		FeedURL:    feedCfg.WSURL,
		DataDir:    dir,
		IPCAddress: ipcAddr,
		Calculators: []tripwire.Calculator{
			tripwire.NewStructuralCalculator(),
		},
	}, registry, bus, srv.Health, phase.IPCKey())
	if err != nil {
		logger.Error("wire detection phase", zap.Error(err))
		return exitRuntimeError
	}

	logger.Info("hunter started",
		zap.Strings("symbols", symbols),
		zap.String("venue", venue),
		zap.String("httpAddr", httpAddr),
		zap.String("ipcAddr", ipcAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		cancel()
		detectionPhase.Manager.Stop()
		logger.Info("hunter shutting down")
		if sig == syscall.SIGINT {
			return exitSIGINT
		}
		return 0
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
		cancel()
		detectionPhase.Manager.Stop()
		return exitRuntimeError
	}
}

func defaultHunterSymbols() []string {
	return []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

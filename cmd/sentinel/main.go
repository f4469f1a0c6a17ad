// Package main runs the Sentinel phase: the execution service side of the
// signed-intent fast path, plus the portfolio/risk/rebalancer/TWAP control
// loop that keeps the book within its configured risk envelope.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/internal/market"
	"github.com/titan-scanner/core/internal/phase"
)

const exitConfigError = 1
const exitRuntimeError = 2
const exitSIGINT = 130

var (
	configPath        string
	headless          bool
	logLevel          string
	httpAddr          string
	venue             string
	symbols           []string
	venues            []string
	ipcAddr           string
	startingEquity    float64
	maxLeverage       float64
	rebalanceInterval time.Duration
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Sentinel runs the execution service and portfolio risk control loop",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (defaults under TITAN_CONFIG_DIR or ~/.titan-scanner)")
	root.PersistentFlags().BoolVar(&headless, "headless", envBool("HEADLESS_MODE"), "disable TUI, emit JSON logs")
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&httpAddr, "http-addr", ":9100", "health/metrics HTTP listen address")
	root.PersistentFlags().StringVar(&venue, "venue", "binance", "venue to subscribe market data from for marks")
	root.PersistentFlags().StringSliceVar(&symbols, "symbols", defaultSentinelSymbols(), "symbols to track marks for")
	root.PersistentFlags().StringSliceVar(&venues, "venues", []string{"binance"}, "venues the paper execution router fills against")
	root.PersistentFlags().StringVar(&ipcAddr, "ipc-addr", envOrDefault("TITAN_IPC_ADDR", "/tmp/titan-sentinel.sock"), "unix socket to accept Scavenger/Hunter intents on")
	root.PersistentFlags().Float64Var(&startingEquity, "starting-equity", 100000, "starting account equity in quote currency")
	root.PersistentFlags().Float64Var(&maxLeverage, "max-leverage", 3, "maximum account leverage")
	root.PersistentFlags().DurationVar(&rebalanceInterval, "rebalance-interval", 30*time.Second, "interval between risk/rebalance control loop cycles")

	exitCode := 0
	root.RunE = func(cmd *cobra.Command, args []string) error {
		exitCode = runSentinel()
		return nil
	}
	if err := root.Execute(); err != nil {
		return exitConfigError
	}
	return exitCode
}

func runSentinel() int {
	logger, err := phase.NewLogger(logLevel, headless)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sentinel: build logger:", err)
		return exitConfigError
	}
	defer logger.Sync()

	dir := phase.ConfigDir(configPath)
	creds, err := phase.LoadCredentials(dir, venues)
	if err != nil {
		logger.Error("load credentials", zap.Error(err))
		return exitConfigError
	}
	for _, v := range venues {
		if _, ok := creds[v]; !ok {
			logger.Warn("no credentials loaded for venue; paper adapter fills are simulated regardless", zap.String("venue", v))
		}
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

	sentinelPhase, err := phase.RunSentinelPhase(ctx, logger, phase.SentinelPhaseConfig{
		Symbols:           symbols,
		Venue:             venue,
		FeedURL:           feedCfg.WSURL,
		DataDir:           dir,
		Venues:            venues,
		IPCAddress:        ipcAddr,
		StartingEquity:    decimal.NewFromFloat(startingEquity),
		MaxLeverage:       decimal.NewFromFloat(maxLeverage),
		RebalanceInterval: rebalanceInterval,
	}, registry, bus, srv.Health, phase.IPCKey())
	if err != nil {
		logger.Error("wire sentinel phase", zap.Error(err))
		return exitRuntimeError
	}

	logger.Info("sentinel started",
		zap.Strings("symbols", symbols),
		zap.Strings("venues", venues),
		zap.String("httpAddr", httpAddr),
		zap.String("ipcAddr", ipcAddr),
		zap.Float64("startingEquity", startingEquity),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		cancel()
		sentinelPhase.Audit.Close()
		shutdown(logger)
		if sig == syscall.SIGINT {
			return exitSIGINT
		}
		return 0
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
		cancel()
		sentinelPhase.Audit.Close()
		return exitRuntimeError
	}
}

func shutdown(logger *zap.Logger) {
	logger.Info("sentinel shutting down")
}

func defaultSentinelSymbols() []string {
	return []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "DOGEUSDT", "ADAUSDT", "AVAXUSDT"}
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

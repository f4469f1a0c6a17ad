// Package phase holds the startup plumbing shared by the three phase
// binaries (scavenger, hunter, sentinel): logger construction, credential
// and config-catalog loading from the environment, and the common
// HTTP health/metrics mux. Each cmd/<phase>/main.go calls into this package
// for the ambient stack and then wires its own phase-specific engines.
package phase

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/titan-scanner/core/internal/audit"
	"github.com/titan-scanner/core/internal/config"
	"github.com/titan-scanner/core/internal/credentials"
	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/internal/health"
	"github.com/titan-scanner/core/internal/metrics"
	"github.com/titan-scanner/core/pkg/types"
)

// NewLogger builds the single structured logger every phase shares: console
// encoding for interactive use, JSON when --headless disables the TUI, with
// level taken from --log-level or LOG_LEVEL.
func NewLogger(level string, headless bool) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "console"
	levelEncoder := zapcore.CapitalColorLevelEncoder
	if headless {
		encoding = "json"
		levelEncoder = zapcore.CapitalLevelEncoder
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    levelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build()
}

// ConfigDir resolves the directory holding secrets.enc, config.json, and
// logs/, honoring TITAN_CONFIG_DIR over the --config flag's directory.
func ConfigDir(flagPath string) string {
	if dir := os.Getenv("TITAN_CONFIG_DIR"); dir != "" {
		return dir
	}
	if flagPath != "" {
		return filepath.Dir(flagPath)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".titan-scanner"
	}
	return filepath.Join(home, ".titan-scanner")
}

// LoadCredentials decrypts secrets.enc under TITAN_MASTER_PASSWORD,
// falling back to per-venue *_API_KEY/*_API_SECRET or *_FILE environment
// variables for any venue absent from the encrypted store.
func LoadCredentials(dir string, venues []string) (map[string]types.VenueCredential, error) {
	out := make(map[string]types.VenueCredential)

	secretsPath := filepath.Join(dir, "secrets.enc")
	if _, err := os.Stat(secretsPath); err == nil {
		password := os.Getenv("TITAN_MASTER_PASSWORD")
		if password == "" {
			return nil, fmt.Errorf("phase: %s exists but TITAN_MASTER_PASSWORD is not set", secretsPath)
		}
		store := credentials.New(secretsPath)
		decrypted, err := store.Load(password)
		if err != nil {
			return nil, fmt.Errorf("phase: decrypt credentials: %w", err)
		}
		for venue, cred := range decrypted {
			out[venue] = cred
		}
	}

	for _, venue := range venues {
		if _, ok := out[venue]; ok {
			continue
		}
		prefix := strings.ToUpper(venue)
		if file := os.Getenv(prefix + "_FILE"); file != "" {
			raw, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("phase: read %s secrets file: %w", venue, err)
			}
			lines := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)
			if len(lines) == 2 {
				out[venue] = types.VenueCredential{APIKey: strings.TrimSpace(lines[0]), APISecret: strings.TrimSpace(lines[1])}
			}
			continue
		}
		apiKey := os.Getenv(prefix + "_API_KEY")
		apiSecret := os.Getenv(prefix + "_API_SECRET")
		if apiKey != "" && apiSecret != "" {
			out[venue] = types.VenueCredential{APIKey: apiKey, APISecret: apiSecret}
		}
	}
	return out, nil
}

// DefaultCatalog returns the config items every phase registers: the
// tunables named across spec.md §4.1-§4.7 that a safety tier governs.
func DefaultCatalog() []types.ConfigItem {
	return []types.ConfigItem{
		{
			Key: "max_delta", Value: 0.15, Default: 0.15,
			Schema:        types.ItemSchema{Type: "number", Min: 0, Max: 1},
			SafetyTier:    types.SafetyTightenOnly,
			RiskDirection: types.SaferIsLower,
			Provenance:    types.ProvenanceDefault,
		},
		{
			Key: "max_leverage", Value: 3.0, Default: 3.0,
			Schema:        types.ItemSchema{Type: "number", Min: 1, Max: 20},
			SafetyTier:    types.SafetyTightenOnly,
			RiskDirection: types.SaferIsLower,
			Provenance:    types.ProvenanceDefault,
		},
		{
			Key: "critical_drawdown_limit", Value: 0.10, Default: 0.10,
			Schema:        types.ItemSchema{Type: "number", Min: 0, Max: 1},
			SafetyTier:    types.SafetyTightenOnly,
			RiskDirection: types.SaferIsLower,
			Provenance:    types.ProvenanceDefault,
		},
		{
			Key: "min_liquidity_score", Value: 25.0, Default: 25.0,
			Schema:        types.ItemSchema{Type: "number", Min: 0, Max: 100},
			SafetyTier:    types.SafetyRaiseOnly,
			Provenance:    types.ProvenanceDefault,
		},
		{
			Key: "master_arm_disabled", Value: false, Default: false,
			Schema:     types.ItemSchema{Type: "bool"},
			SafetyTier: types.SafetyTunable,
			Provenance: types.ProvenanceDefault,
		},
		{
			Key: "circuit_breaker", Value: false, Default: false,
			Schema:     types.ItemSchema{Type: "bool"},
			SafetyTier: types.SafetyTunable,
			Provenance: types.ProvenanceDefault,
		},
		{
			Key: "ghost_mode", Value: false, Default: false,
			Schema:     types.ItemSchema{Type: "bool"},
			SafetyTier: types.SafetyTunable,
			Provenance: types.ProvenanceDefault,
		},
	}
}

// HMACKey derives (or reads) the key the config registry uses to sign
// override receipts. A dedicated env var keeps it independent of venue
// credentials and the master password.
func HMACKey() []byte {
	if key := os.Getenv("TITAN_CONFIG_HMAC_KEY"); key != "" {
		return []byte(key)
	}
	return []byte("titan-scanner-dev-config-hmac-key")
}

// IPCKey returns the shared secret the signed-intent fast path uses to
// authenticate frames between a phase's ipc.Client and Sentinel's
// ipc.Server. It is distinct from HMACKey so rotating the intent channel's
// key never touches config-override receipts.
func IPCKey() []byte {
	if key := os.Getenv("TITAN_IPC_KEY"); key != "" {
		return []byte(key)
	}
	return []byte("titan-scanner-dev-ipc-key")
}

// Server bundles the HTTP surface (health, metrics, CORS) every phase
// mounts alongside its own engines.
type Server struct {
	httpServer *http.Server
	Router     *mux.Router
	Health     *health.Monitor
	Metrics    *metrics.Registry
}

// NewServer builds the shared HTTP surface bound to addr. Call Start to
// begin serving and Stop to shut it down.
func NewServer(addr string) *Server {
	router := mux.NewRouter()
	monitor := health.NewMonitor()
	reg := metrics.New()

	monitor.RegisterRoutes(router)
	router.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(router)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Router:  router,
		Health:  monitor,
		Metrics: reg,
	}
}

// Start begins serving in the background; errors are delivered to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Stop closes the HTTP surface immediately, including active connections.
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// NewAuditWriter opens the append-only trade log under dir/logs.
func NewAuditWriter(logger *zap.Logger, dir string) (*audit.Writer, error) {
	w, err := audit.NewWriter(filepath.Join(dir, "logs"))
	if err != nil {
		return nil, err
	}
	w.SetLogger(logger)
	return w, nil
}

// NewConfigRegistry builds a config.Registry seeded with DefaultCatalog and
// wired to bus for change notification.
func NewConfigRegistry(logger *zap.Logger, bus *events.Bus) *config.Registry {
	return config.New(logger, bus, HMACKey(), DefaultCatalog())
}

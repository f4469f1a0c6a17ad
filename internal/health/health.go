// Package health exposes the /health, /health/live, /health/ready HTTP
// endpoints shared by all three phase binaries, generalized from the
// teacher's single static handleHealth into a per-connection status board
// fed by reconnect.Lifecycle state changes.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/titan-scanner/core/internal/reconnect"
)

// Status is the worst-of classification surfaced at GET /health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Report is the JSON body returned by GET /health.
type Report struct {
	Status      Status            `json:"status"`
	Connections map[string]string `json:"connections"`
	UptimeS     int64             `json:"uptime_s"`
}

// Monitor tracks the connection state of every upstream feed a phase binary
// depends on (market data, IPC to the signed-intent sentinel, venue REST
// clients) and derives the aggregate status served at /health.
type Monitor struct {
	started time.Time

	mu          sync.RWMutex
	connections map[string]reconnect.State
}

// NewMonitor creates a Monitor whose uptime clock starts immediately.
func NewMonitor() *Monitor {
	return &Monitor{
		started:     time.Now(),
		connections: make(map[string]reconnect.State),
	}
}

// Register adds a named connection in the DISCONNECTED state. Call this
// once per upstream dependency at startup before wiring its
// reconnect.Lifecycle.OnStateChange callback to Update.
func (m *Monitor) Register(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[name] = reconnect.Disconnected
}

// Update records the current state of a named connection. Pass this as (or
// call it from) a reconnect.Lifecycle's OnStateChange callback.
func (m *Monitor) Update(name string, state reconnect.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[name] = state
}

// Snapshot returns the current aggregate report.
func (m *Monitor) Snapshot() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connections := make(map[string]string, len(m.connections))
	var total, connected int
	for name, state := range m.connections {
		connections[name] = string(state)
		total++
		if state == reconnect.Connected {
			connected++
		}
	}

	status := StatusHealthy
	switch {
	case total == 0 || connected == total:
		status = StatusHealthy
	case connected == 0:
		status = StatusUnhealthy
	default:
		status = StatusDegraded
	}

	return Report{
		Status:      status,
		Connections: connections,
		UptimeS:     int64(time.Since(m.started).Seconds()),
	}
}

// Ready reports whether every registered connection is CONNECTED. A phase
// with no registered connections is considered ready trivially.
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, state := range m.connections {
		if state != reconnect.Connected {
			return false
		}
	}
	return true
}

// RegisterRoutes wires /health, /health/live, and /health/ready onto
// router.
func (m *Monitor) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", m.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/health/live", m.handleLive).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", m.handleReady).Methods(http.MethodGet)
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := m.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

func (m *Monitor) handleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "alive",
		"uptime_s": int64(time.Since(m.started).Seconds()),
	})
}

func (m *Monitor) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !m.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"status": "not_ready"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"status": "ready"})
}

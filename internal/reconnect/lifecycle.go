// Package reconnect provides the single reusable connection-lifecycle state
// machine shared by market feed adapters and the signed-intent client
// (spec.md §9: "consolidate all reconnect logic").
package reconnect

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a node in the connection lifecycle graph.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// Config bounds the backoff schedule and attempt budget of a Lifecycle.
type Config struct {
	MaxAttempts int           // 0 means unlimited
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of delay to randomize, e.g. 0.2
}

// DefaultConfig returns a conservative exponential backoff schedule.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 0,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// ConnectFunc attempts to establish one connection. It blocks until the
// connection ends (cleanly or with an error) and returns the reason.
type ConnectFunc func(ctx context.Context) error

// StateChangeFunc is invoked on every transition.
type StateChangeFunc func(prev, next State, attempt int)

// Lifecycle drives a single connection through DISCONNECTED -> CONNECTING ->
// CONNECTED -> RECONNECTING -> ... -> FAILED, running connectFn repeatedly
// with exponential backoff between attempts.
type Lifecycle struct {
	mu      sync.RWMutex
	name    string
	cfg     Config
	state   State
	logger  *zap.Logger
	onState StateChangeFunc
	rng     *rand.Rand
}

// New creates a Lifecycle in the DISCONNECTED state.
func New(name string, cfg Config, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		name:   name,
		cfg:    cfg,
		state:  Disconnected,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (l *Lifecycle) OnStateChange(fn StateChangeFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Lifecycle) setState(next State, attempt int) {
	l.mu.Lock()
	prev := l.state
	l.state = next
	cb := l.onState
	l.mu.Unlock()

	if prev != next {
		l.logger.Info("reconnect lifecycle transition",
			zap.String("name", l.name),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
			zap.Int("attempt", attempt),
		)
		if cb != nil {
			cb(prev, next, attempt)
		}
	}
}

// Run drives the lifecycle until ctx is cancelled (settling in
// DISCONNECTED), MaxAttempts is exhausted (settling in FAILED), or
// connectFn returns nil, which is treated as a clean close and settles in
// DISCONNECTED.
func (l *Lifecycle) Run(ctx context.Context, connectFn ConnectFunc) error {
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			l.setState(Disconnected, attempt)
			return ctx.Err()
		default:
		}

		if attempt == 0 {
			l.setState(Connecting, attempt)
		} else {
			l.setState(Reconnecting, attempt)
		}

		attempt++

		err := connectFn(ctx)
		if err == nil {
			l.setState(Connected, attempt)
			// connectFn returning nil while still "connected" means the
			// caller handled the full session to completion; treat this as
			// a clean close and stop driving further attempts.
			l.setState(Disconnected, attempt)
			return nil
		}

		if ctx.Err() != nil {
			l.setState(Disconnected, attempt)
			return ctx.Err()
		}

		l.logger.Warn("reconnect attempt failed",
			zap.String("name", l.name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if l.cfg.MaxAttempts > 0 && attempt >= l.cfg.MaxAttempts {
			l.setState(Failed, attempt)
			return err
		}

		delay := l.backoff(attempt)
		select {
		case <-ctx.Done():
			l.setState(Disconnected, attempt)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *Lifecycle) backoff(attempt int) time.Duration {
	base := float64(l.cfg.BaseDelay)
	d := base * float64(uint(1)<<uint(minInt(attempt-1, 20)))
	max := float64(l.cfg.MaxDelay)
	if d > max {
		d = max
	}
	if l.cfg.Jitter > 0 {
		jitter := d * l.cfg.Jitter
		d = d - jitter + l.rng.Float64()*2*jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

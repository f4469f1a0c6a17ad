package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/reconnect"
	"github.com/titan-scanner/core/pkg/utils"
)

// DefaultMessageDeadline is the per-message round-trip timeout.
const DefaultMessageDeadline = 500 * time.Millisecond

var (
	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("ipc: IPC_TIMEOUT")
	// ErrCancelled is returned for requests pending at disconnect.
	ErrCancelled = errors.New("ipc: CANCELLED")
	// ErrNotConnected is returned when no connection is currently open.
	ErrNotConnected = errors.New("ipc: not connected")
)

// Dialer opens the underlying stream connection (unix domain socket or TCP).
type Dialer func(ctx context.Context) (net.Conn, error)

// Metrics accumulates the counters named in §4.3.
type Metrics struct {
	MessagesSent      atomic.Int64
	MessagesReceived  atomic.Int64
	MessagesFailed    atomic.Int64
	ReconnectAttempts atomic.Int64
	LatencySumNanos   atomic.Int64
	LatencyCount      atomic.Int64
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"messages_sent":      m.MessagesSent.Load(),
		"messages_received":  m.MessagesReceived.Load(),
		"messages_failed":    m.MessagesFailed.Load(),
		"reconnect_attempts": m.ReconnectAttempts.Load(),
		"latency_sum":        m.LatencySumNanos.Load(),
		"latency_count":      m.LatencyCount.Load(),
	}
}

type pendingCall struct {
	reply chan *Frame
}

// Client drives the signed-intent fast path from the detection/router side:
// it dials, maintains a reconnect.Lifecycle, pipelines requests on one
// connection, and matches responses by correlation_id.
type Client struct {
	logger   *zap.Logger
	dialer   Dialer
	key      []byte
	deadline time.Duration
	lc       *reconnect.Lifecycle
	metrics  Metrics

	mu      sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer
	pending map[string]*pendingCall
}

// NewClient builds a Client. Call Run in its own goroutine to start the
// connection lifecycle before issuing requests.
func NewClient(logger *zap.Logger, dialer Dialer, key []byte, cfg reconnect.Config) *Client {
	c := &Client{
		logger:   logger.Named("ipc-client"),
		dialer:   dialer,
		key:      key,
		deadline: DefaultMessageDeadline,
		pending:  make(map[string]*pendingCall),
	}
	c.lc = reconnect.New("ipc-client", cfg, c.logger)
	c.lc.OnStateChange(func(prev, next reconnect.State, attempt int) {
		if next == reconnect.Reconnecting {
			c.metrics.ReconnectAttempts.Add(1)
		}
		if next == reconnect.Disconnected {
			c.cancelPending(ErrCancelled)
		}
	})
	return c
}

// Run drives the connection lifecycle until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	return c.lc.Run(ctx, c.connectOnce)
}

func (c *Client) connectOnce(ctx context.Context) error {
	conn, err := c.dialer(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.writer = bufio.NewWriter(conn)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.writer = nil
		c.mu.Unlock()
		conn.Close()
	}()

	return c.readLoop(ctx, conn)
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var frame Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			c.metrics.MessagesFailed.Add(1)
			continue
		}
		if err := Verify(&frame, c.key); err != nil {
			c.metrics.MessagesFailed.Add(1)
			continue
		}
		c.metrics.MessagesReceived.Add(1)
		c.dispatch(&frame)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("ipc: connection closed")
}

func (c *Client) dispatch(frame *Frame) {
	c.mu.Lock()
	call, ok := c.pending[frame.CorrelationID]
	if ok {
		delete(c.pending, frame.CorrelationID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	call.reply <- frame
}

func (c *Client) cancelPending(reason error) {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range calls {
		close(call.reply)
	}
	_ = reason
}

// call sends payload as a frame of signalType and waits for the matching
// response, enforcing the per-message deadline.
func (c *Client) call(ctx context.Context, signalID string, signalType MessageType, payload interface{}) (*Frame, error) {
	c.mu.Lock()
	writer := c.writer
	c.mu.Unlock()
	if writer == nil {
		return nil, ErrNotConnected
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	frame := &Frame{
		CorrelationID: utils.GenerateID("corr"),
		TimestampMs:   time.Now().UnixMilli(),
		SignalID:      signalID,
		SignalType:    signalType,
		Payload:       payloadJSON,
	}
	if err := Sign(frame, c.key); err != nil {
		return nil, err
	}

	reply := make(chan *Frame, 1)
	c.mu.Lock()
	c.pending[frame.CorrelationID] = &pendingCall{reply: reply}
	c.mu.Unlock()

	line, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	c.mu.Lock()
	if c.writer == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	_, werr := c.writer.Write(append(line, '\n'))
	if werr == nil {
		werr = c.writer.Flush()
	}
	c.mu.Unlock()
	if werr != nil {
		c.removePending(frame.CorrelationID)
		c.metrics.MessagesFailed.Add(1)
		return nil, werr
	}
	c.metrics.MessagesSent.Add(1)

	deadline := time.NewTimer(c.deadline)
	defer deadline.Stop()

	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, ErrCancelled
		}
		c.recordLatency(time.Since(start))
		return resp, nil
	case <-deadline.C:
		c.removePending(frame.CorrelationID)
		c.metrics.MessagesFailed.Add(1)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.removePending(frame.CorrelationID)
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

func (c *Client) recordLatency(d time.Duration) {
	c.metrics.LatencySumNanos.Add(d.Nanoseconds())
	c.metrics.LatencyCount.Add(1)
}

// Prepare sends a PREPARE request for signal.
func (c *Client) Prepare(ctx context.Context, signal *PreparePayload, signalID string) (*PrepareResponse, error) {
	frame, err := c.call(ctx, signalID, MessagePrepare, signal)
	if err != nil {
		return nil, err
	}
	var resp PrepareResponse
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		return nil, fmt.Errorf("ipc: decode prepare response: %w", err)
	}
	return &resp, nil
}

// Confirm sends a CONFIRM request for signalID. Callers MUST only invoke
// this after a Prepare response with Prepared == true.
func (c *Client) Confirm(ctx context.Context, signalID string) (*ConfirmResponse, error) {
	frame, err := c.call(ctx, signalID, MessageConfirm, ConfirmPayload{SignalID: signalID})
	if err != nil {
		return nil, err
	}
	var resp ConfirmResponse
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		return nil, fmt.Errorf("ipc: decode confirm response: %w", err)
	}
	return &resp, nil
}

// Abort sends an ABORT request for signalID.
func (c *Client) Abort(ctx context.Context, signalID string) (*AbortResponse, error) {
	frame, err := c.call(ctx, signalID, MessageAbort, AbortPayload{SignalID: signalID})
	if err != nil {
		return nil, err
	}
	var resp AbortResponse
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		return nil, fmt.Errorf("ipc: decode abort response: %w", err)
	}
	return &resp, nil
}

// MetricsSnapshot exposes the client's counters.
func (c *Client) MetricsSnapshot() map[string]int64 {
	return c.metrics.Snapshot()
}

// State returns the client's current connection lifecycle state.
func (c *Client) State() reconnect.State {
	return c.lc.State()
}

// Package events provides the in-process publish/subscribe bus used to
// decouple the tripwire engine, detection shards, the signed-intent client,
// the router, and the config registry. Publish queues events for a worker
// pool and drops them when the queue is full; PublishSync dispatches on the
// caller's goroutine. A handler runs on a goroutine of its own unless it
// was subscribed with Async false, so delivery is not synchronous by
// default. Panics and errors are isolated so one bad subscriber cannot
// stop others.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType enumerates the message kinds carried on the bus (spec.md §9:
// "the in-process on/emit bus becomes a set of typed message channels with
// enumerated message kinds").
type EventType string

const (
	// TrapMapUpdated is republished at the end of each tripwire
	// pre-computation cycle.
	TrapMapUpdated EventType = "TrapMapUpdated"
	// TrapSprung is emitted when a tripwire transitions to ACTIVATED and an
	// IntentSignal has been produced.
	TrapSprung EventType = "TrapSprung"
	// ExecutionComplete reports the outcome of the router's fan-out for a
	// signal. No component in this repository publishes it.
	ExecutionComplete EventType = "ExecutionComplete"
	// ErrorEvent carries a non-fatal operational error for observability.
	ErrorEvent EventType = "Error"
	// IpcConnectionFailed reports that the signed-intent client's reconnect
	// lifecycle has exhausted its attempts. No component in this repository
	// publishes it; ipc.Client holds no bus.
	IpcConnectionFailed EventType = "IpcConnectionFailed"
	// ConfigChanged is emitted after an accepted config override or a file
	// hot-reload produces a new effective snapshot.
	ConfigChanged EventType = "ConfigChanged"
)

// Event is the base interface for all bus events.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) GetType() EventType      { return e.Type }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetID() string           { return e.ID }

var eventCounter atomic.Int64

func generateEventID() string {
	id := eventCounter.Add(1)
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

func newBaseEvent(t EventType) BaseEvent {
	return BaseEvent{ID: generateEventID(), Type: t, Timestamp: time.Now()}
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// TrapMapUpdatedEvent carries the watchlist snapshot produced by one
// pre-computation cycle: the symbols currently ranked in the top-N and the
// total tripwire count across all of them.
type TrapMapUpdatedEvent struct {
	BaseEvent
	Symbols       []string `json:"symbols"`
	TripwireCount int      `json:"tripwireCount"`
}

// NewTrapMapUpdatedEvent constructs a TrapMapUpdated event.
func NewTrapMapUpdatedEvent(symbols []string, count int) *TrapMapUpdatedEvent {
	return &TrapMapUpdatedEvent{BaseEvent: newBaseEvent(TrapMapUpdated), Symbols: symbols, TripwireCount: count}
}

// TrapSprungEvent carries the signal ID emitted when a tripwire activates.
type TrapSprungEvent struct {
	BaseEvent
	Symbol   string `json:"symbol"`
	SignalID string `json:"signalId"`
}

// NewTrapSprungEvent constructs a TrapSprung event.
func NewTrapSprungEvent(symbol, signalID string) *TrapSprungEvent {
	return &TrapSprungEvent{BaseEvent: newBaseEvent(TrapSprung), Symbol: symbol, SignalID: signalID}
}

// ExecutionCompleteEvent reports the outcome of a fan-out dispatch.
type ExecutionCompleteEvent struct {
	BaseEvent
	SignalID  string `json:"signalId"`
	Filled    int    `json:"filled"`
	Failed    int    `json:"failed"`
}

// NewExecutionCompleteEvent constructs an ExecutionComplete event.
func NewExecutionCompleteEvent(signalID string, filled, failed int) *ExecutionCompleteEvent {
	return &ExecutionCompleteEvent{BaseEvent: newBaseEvent(ExecutionComplete), SignalID: signalID, Filled: filled, Failed: failed}
}

// ErrorNotice reports a non-fatal operational error for observability.
type ErrorNotice struct {
	BaseEvent
	Component string `json:"component"`
	Message   string `json:"message"`
}

// NewErrorNotice constructs an Error event.
func NewErrorNotice(component, message string) *ErrorNotice {
	return &ErrorNotice{BaseEvent: newBaseEvent(ErrorEvent), Component: component, Message: message}
}

// IpcConnectionFailedEvent is the payload of an IpcConnectionFailed event:
// the attempt count and reason of an exhausted reconnect lifecycle.
type IpcConnectionFailedEvent struct {
	BaseEvent
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

// NewIpcConnectionFailedEvent constructs an IpcConnectionFailed event.
func NewIpcConnectionFailedEvent(attempts int, reason string) *IpcConnectionFailedEvent {
	return &IpcConnectionFailedEvent{BaseEvent: newBaseEvent(IpcConnectionFailed), Attempts: attempts, Reason: reason}
}

// ConfigChangedEvent carries the key that produced a new effective snapshot.
type ConfigChangedEvent struct {
	BaseEvent
	Key string `json:"key"`
}

// NewConfigChangedEvent constructs a ConfigChanged event.
func NewConfigChangedEvent(key string) *ConfigChangedEvent {
	return &ConfigChangedEvent{BaseEvent: newBaseEvent(ConfigChanged), Key: key}
}

// EventHandler is a function that processes events.
type EventHandler func(event Event) error

// EventFilter can selectively process events.
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription behavior.
type SubscriptionOptions struct {
	Filter EventFilter
	Async  bool
}

// Subscription represents an active event subscription.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive returns whether subscription is active.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	id := subscriptionCounter.Add(1)
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

// Stats reports cumulative bus performance counters.
type Stats struct {
	EventsPublished   int64         `json:"eventsPublished"`
	EventsProcessed   int64         `json:"eventsProcessed"`
	EventsDropped     int64         `json:"eventsDropped"`
	ProcessingErrors  int64         `json:"processingErrors"`
	MaxLatencyNs      int64         `json:"maxLatencyNs"`
	AvgLatencyNs      int64         `json:"avgLatencyNs"`
	P99Latency        time.Duration `json:"p99Latency"`
	ActiveSubscribers int64         `json:"activeSubscribers"`
}

// Config configures the event bus worker pool.
type Config struct {
	NumWorkers int
	BufferSize int
}

// DefaultConfig returns sensible worker/buffer defaults.
func DefaultConfig() Config {
	return Config{NumWorkers: 16, BufferSize: 100000}
}

// Bus is the central event routing system. Publish is non-blocking: if the
// buffer is full the event is dropped and counted rather than applying
// backpressure to the publisher.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies  []int64
	latencyMu  sync.Mutex
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewBus creates a bus and starts its worker pool.
func NewBus(logger *zap.Logger, cfg Config) *Bus {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 16
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100000
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, cfg.BufferSize),
		workerCount:    cfg.NumWorkers,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
		latencies:      make([]int64, 0, 10000),
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	b.logger.Info("event bus started",
		zap.Int("workers", cfg.NumWorkers),
		zap.Int("buffer_size", cfg.BufferSize),
	)

	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			start := time.Now()
			b.processEvent(event)
			b.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (b *Bus) processEvent(event Event) {
	b.mu.RLock()
	subs := b.subscribers[event.GetType()]
	allSubs := b.allSubscribers
	b.mu.RUnlock()

	dispatch := func(sub *Subscription) {
		if !sub.active.Load() {
			return
		}
		if sub.Options.Filter != nil && !sub.Options.Filter(event) {
			return
		}
		if sub.Options.Async {
			go b.executeHandler(sub, event)
		} else {
			b.executeHandler(sub, event)
		}
	}

	for _, sub := range subs {
		dispatch(sub)
	}
	for _, sub := range allSubs {
		dispatch(sub)
	}

	b.eventsProcessed.Add(1)
}

func (b *Bus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.processingErrors.Add(1)
			b.logger.Error("event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		b.processingErrors.Add(1)
		b.logger.Warn("event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err),
		)
	}
}

func (b *Bus) trackLatency(latencyNs int64) {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()

	b.latencies = append(b.latencies, latencyNs)
	if len(b.latencies) > 10000 {
		b.latencies = b.latencies[5000:]
	}

	if currentMax := b.maxLatency.Load(); latencyNs > currentMax {
		b.maxLatency.Store(latencyNs)
	}

	currentAvg := b.avgLatency.Load()
	b.avgLatency.Store((currentAvg*99 + latencyNs) / 100)
}

// Subscribe registers a handler for a single event type.
func (b *Bus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.activeSubscribers.Add(1)

	return sub
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	b.allSubscribers = append(b.allSubscribers, sub)
	b.activeSubscribers.Add(1)

	return sub
}

// Unsubscribe deactivates a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	b.activeSubscribers.Add(-1)
}

// Publish sends an event to all subscribers without blocking. If the
// internal buffer is full the event is dropped and counted.
func (b *Bus) Publish(event Event) {
	select {
	case b.eventChan <- event:
		b.eventsPublished.Add(1)
	default:
		b.eventsDropped.Add(1)
		b.logger.Warn("event dropped, buffer full", zap.String("event_type", string(event.GetType())))
	}
}

// PublishSync sends an event and processes it on the caller's goroutine.
func (b *Bus) PublishSync(event Event) {
	b.eventsPublished.Add(1)
	b.processEvent(event)
}

// Stats returns a snapshot of the bus's performance counters.
func (b *Bus) Stats() Stats {
	p99 := b.p99LatencyNs()
	return Stats{
		EventsPublished:   b.eventsPublished.Load(),
		EventsProcessed:   b.eventsProcessed.Load(),
		EventsDropped:     b.eventsDropped.Load(),
		ProcessingErrors:  b.processingErrors.Load(),
		MaxLatencyNs:      b.maxLatency.Load(),
		AvgLatencyNs:      b.avgLatency.Load(),
		P99Latency:        time.Duration(p99),
		ActiveSubscribers: b.activeSubscribers.Load(),
	}
}

func (b *Bus) p99LatencyNs() int64 {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()

	if len(b.latencies) == 0 {
		return 0
	}

	sorted := make([]int64, len(b.latencies))
	copy(sorted, b.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop shuts the bus down, waiting up to 5s for in-flight workers to drain.
func (b *Bus) Stop() {
	b.logger.Info("event bus shutting down")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus shutdown complete",
			zap.Int64("events_processed", b.eventsProcessed.Load()),
			zap.Int64("events_dropped", b.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus shutdown timed out")
	}
}

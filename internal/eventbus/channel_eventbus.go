// Package eventbus delivers pipeline progress and response events to
// subscribers.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDurableEvents are retried on handler failure and still delivered when
// they are queued at shutdown. Every other event is progress: delivered once,
// dropped if the bus is closing.
var DefaultDurableEvents = []EventType{EventResponseReady, EventRegistryReloaded}

// ChannelEventBus queues events on a buffered channel drained by a fixed set
// of workers.
type ChannelEventBus struct {
	// subs in registration order; a nil types set receives every event.
	subs  []subscription
	subMu sync.RWMutex

	queue chan envelope
	done  chan struct{}

	// stateMu guards closed. It is separate from subMu so a publisher blocked on
	// a full queue never holds the lock the workers need to drain it.
	closed  bool
	stateMu sync.RWMutex
	wg      sync.WaitGroup

	durable       map[EventType]bool
	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
}

type subscription struct {
	id      string
	types   map[EventType]bool
	handler EventHandler
}

type envelope struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures the channel-based event bus
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the queue capacity.
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.bufferSize = size
	}
}

// WithWorkerCount sets the number of dispatch workers.
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.workerCount = count
	}
}

// WithRetries sets how often a failed handler is retried for durable events.
// The wait doubles after each attempt, starting at retryInterval.
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryInterval = retryInterval
	}
}

// WithDurableEvents marks additional event types as durable.
func WithDurableEvents(types ...EventType) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		for _, t := range types {
			eb.durable[t] = true
		}
	}
}

// NewChannelEventBus creates a bus and starts its workers.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		done:          make(chan struct{}),
		durable:       make(map[EventType]bool),
		bufferSize:    100,
		workerCount:   5,
		maxRetries:    3,
		retryInterval: 100 * time.Millisecond,
	}
	for _, t := range DefaultDurableEvents {
		eb.durable[t] = true
	}
	for _, option := range options {
		option(eb)
	}
	if eb.workerCount < 1 {
		eb.workerCount = 1
	}
	if eb.bufferSize < 0 {
		eb.bufferSize = 0
	}

	eb.queue = make(chan envelope, eb.bufferSize)
	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

// IsDurable reports whether events of type t are retried and drained on close.
func (eb *ChannelEventBus) IsDurable(t EventType) bool {
	return eb.durable[t]
}

func (eb *ChannelEventBus) worker() {
	defer eb.wg.Done()
	for env := range eb.queue {
		eb.dispatch(env)
	}
}

func (eb *ChannelEventBus) dispatch(env envelope) {
	durable := eb.durable[env.event.Type()]
	if !durable && eb.closing() {
		return
	}
	if env.ctx.Err() != nil {
		return
	}
	for _, handler := range eb.handlersFor(env.event.Type()) {
		eb.deliver(env.ctx, env.event, handler, durable)
	}
}

// handlersFor snapshots the matching handlers so they run without the lock;
// handlers may subscribe or unsubscribe.
func (eb *ChannelEventBus) handlersFor(t EventType) []EventHandler {
	eb.subMu.RLock()
	defer eb.subMu.RUnlock()
	var out []EventHandler
	for _, s := range eb.subs {
		if s.types == nil || s.types[t] {
			out = append(out, s.handler)
		}
	}
	return out
}

func (eb *ChannelEventBus) deliver(ctx context.Context, event Event, handler EventHandler, durable bool) {
	attempts := 1
	if durable {
		attempts += eb.maxRetries
	}
	wait := eb.retryInterval

	var err error
	attempt := 1
retry:
	for ; ; attempt++ {
		if err = call(ctx, event, handler); err == nil {
			return
		}
		if attempt >= attempts {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-eb.done:
			break retry
		case <-time.After(wait):
			wait *= 2
		}
	}
	log.Printf("Event handler failed (event_type: %s, source: %s, attempts: %d, error: %v)",
		event.Type(), event.Source(), attempt, err)
}

func call(ctx context.Context, event Event, handler EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Publish queues an event. It blocks while the queue is full until ctx ends.
// Handlers are skipped when ctx is already done by the time the event is
// dispatched.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	eb.stateMu.RLock()
	defer eb.stateMu.RUnlock()
	if eb.closed {
		return fmt.Errorf("event bus is closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case eb.queue <- envelope{ctx: ctx, event: event}:
		return nil
	}
}

// Subscribe registers a handler for the given event types.
func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}
	types := make(map[EventType]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	return eb.add(types, handler)
}

// SubscribeAll registers a handler for every event type.
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	return eb.add(nil, handler)
}

func (eb *ChannelEventBus) add(types map[EventType]bool, handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	if eb.isClosed() {
		return "", fmt.Errorf("event bus is closed")
	}

	id := uuid.New().String()
	eb.subMu.Lock()
	eb.subs = append(eb.subs, subscription{id: id, types: types, handler: handler})
	eb.subMu.Unlock()
	return id, nil
}

// Unsubscribe removes a subscription by ID.
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	if eb.isClosed() {
		return fmt.Errorf("event bus is closed")
	}

	eb.subMu.Lock()
	defer eb.subMu.Unlock()
	for i, s := range eb.subs {
		if s.id == subscriptionID {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscription '%s' not found", subscriptionID)
}

func (eb *ChannelEventBus) isClosed() bool {
	eb.stateMu.RLock()
	defer eb.stateMu.RUnlock()
	return eb.closed
}

func (eb *ChannelEventBus) closing() bool {
	select {
	case <-eb.done:
		return true
	default:
		return false
	}
}

// Close stops accepting events, delivers the durable events still queued and
// waits for the workers. Retries stop once Close is called.
func (eb *ChannelEventBus) Close() error {
	eb.stateMu.Lock()
	if eb.closed {
		eb.stateMu.Unlock()
		return nil
	}
	eb.closed = true
	close(eb.done)
	close(eb.queue)
	eb.stateMu.Unlock()

	eb.wg.Wait()
	return nil
}

// Package eventbus carries planning events from the planner to observers such as
// the metrics collector.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/google/uuid"
)

// ChannelEventBus fans events out to subscribers from a fixed worker pool.
type ChannelEventBus struct {
	mu          sync.RWMutex
	byType      map[EventType]map[string]EventHandler
	all         map[string]EventHandler
	queue       chan queued
	done        chan struct{}
	closed      bool
	wg          sync.WaitGroup
	logger      logging.Logger
	bufferSize  int
	workerCount int
	maxRetries  int
	retryDelay  time.Duration
}

type queued struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures a ChannelEventBus.
type ChannelEventBusOption func(*ChannelEventBus)

func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) { eb.bufferSize = size }
}

func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) { eb.workerCount = count }
}

// WithRetries sets how often a failing handler is retried and the pause between tries.
func WithRetries(maxRetries int, delay time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryDelay = delay
	}
}

// WithLogger routes handler failures to l.
func WithLogger(l logging.Logger) ChannelEventBusOption {
	return func(eb *ChannelEventBus) { eb.logger = l }
}

// NewChannelEventBus starts the worker pool and returns the bus.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		byType:      make(map[EventType]map[string]EventHandler),
		all:         make(map[string]EventHandler),
		done:        make(chan struct{}),
		bufferSize:  100,
		workerCount: 4,
		maxRetries:  2,
		retryDelay:  50 * time.Millisecond,
	}
	for _, opt := range options {
		opt(eb)
	}
	eb.logger = logging.OrNop(eb.logger)
	if eb.workerCount < 1 {
		eb.workerCount = 1
	}
	if eb.bufferSize < 0 {
		eb.bufferSize = 0
	}
	eb.queue = make(chan queued, eb.bufferSize)
	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.work()
	}
	return eb
}

func (eb *ChannelEventBus) work() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case q := <-eb.queue:
			eb.dispatch(q)
		}
	}
}

func (eb *ChannelEventBus) dispatch(q queued) {
	if q.ctx.Err() != nil {
		return
	}
	// handlers are snapshotted so they may subscribe or unsubscribe themselves
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.byType[q.event.Type()])+len(eb.all))
	for _, h := range eb.byType[q.event.Type()] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.all {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.run(q.ctx, q.event, h)
	}
}

func (eb *ChannelEventBus) run(ctx context.Context, event Event, h EventHandler) {
	var err error
	for attempt := 0; attempt <= eb.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err = h(ctx, event); err == nil {
			return
		}
		if attempt == eb.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-eb.done:
			return
		case <-time.After(eb.retryDelay):
		}
	}
	eb.logger.Warn("event handler failed", logging.Fields{
		"event_type": string(event.Type()),
		"retries":    eb.maxRetries,
		"error":      err.Error(),
	})
}

// Publish queues event for delivery. It blocks while the buffer is full.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	eb.mu.RLock()
	closed := eb.closed
	eb.mu.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-eb.done:
		return fmt.Errorf("event bus is closed")
	case eb.queue <- queued{ctx: ctx, event: event}:
		return nil
	}
}

func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return "", fmt.Errorf("event bus is closed")
	}
	id := uuid.NewString()
	for _, et := range eventTypes {
		if eb.byType[et] == nil {
			eb.byType[et] = make(map[string]EventHandler)
		}
		eb.byType[et][id] = handler
	}
	return id, nil
}

func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return "", fmt.Errorf("event bus is closed")
	}
	id := uuid.NewString()
	eb.all[id] = handler
	return id, nil
}

func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return fmt.Errorf("event bus is closed")
	}
	delete(eb.all, subscriptionID)
	for et, subs := range eb.byType {
		delete(subs, subscriptionID)
		if len(subs) == 0 {
			delete(eb.byType, et)
		}
	}
	return nil
}

// Close stops the workers. Queued but undelivered events are dropped.
func (eb *ChannelEventBus) Close() error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return nil
	}
	eb.closed = true
	eb.mu.Unlock()

	close(eb.done)
	eb.wg.Wait()
	return nil
}

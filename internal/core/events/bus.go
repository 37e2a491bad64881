package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Event interface {
	EventType() string
	EventID() string
	OccurredAt() time.Time
	Payload() interface{}
}

type BaseEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) EventID() string {
	return e.ID
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func (e BaseEvent) Payload() interface{} {
	return e.Data
}

type Handler func(ctx context.Context, event Event) error

// Publisher is the side of the bus services depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type EventBus struct {
	handlers map[string][]Handler
	logger   *slog.Logger
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

func (eb *EventBus) Subscribe(eventType string, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Info("event handler registered",
		"event_type", eventType,
		"total_handlers", len(eb.handlers[eventType]))
}

// targets returns the subscribers of event, logging when there are none.
func (eb *EventBus) targets(event Event, mode string) []Handler {
	eb.mu.RLock()
	handlers := eb.handlers[event.EventType()]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		eb.logger.Debug("no handlers for event type", "event_type", event.EventType())
		return nil
	}
	eb.logger.Info("publishing event",
		"mode", mode,
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"handlers_count", len(handlers))
	return handlers
}

func (eb *EventBus) logFailure(event Event, msg string, args ...any) {
	eb.logger.Error(msg, append([]any{
		"event_type", event.EventType(),
		"event_id", event.EventID(),
	}, args...)...)
}

// Publish fans the event out to every subscriber on its own goroutine and
// returns immediately. Handler errors are logged, never returned: the caller
// has already committed its state change. Handlers run detached from the
// caller's cancellation so a finished HTTP request does not abort delivery.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	detached := context.WithoutCancel(ctx)
	for _, handler := range eb.targets(event, "async") {
		eb.wg.Add(1)
		go func(h Handler) {
			defer eb.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					eb.logFailure(event, "event handler panicked", "panic", r)
				}
			}()
			if err := h(detached, event); err != nil {
				eb.logFailure(event, "event handler failed", "error", err)
			}
		}(handler)
	}
	return nil
}

// PublishSync runs subscribers in registration order and stops at the first
// error.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) error {
	for _, handler := range eb.targets(event, "sync") {
		if err := handler(ctx, event); err != nil {
			eb.logFailure(event, "event handler failed", "error", err)
			return fmt.Errorf("handler failed for event %s: %w", event.EventType(), err)
		}
	}
	return nil
}

// Wait blocks until in-flight asynchronous handlers return. Used on shutdown.
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

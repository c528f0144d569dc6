package eventbus

import (
	"context"
	"time"
)

// EventType names a planning event.
type EventType string

const (
	// Planning lifecycle
	EventPlanningStarted   EventType = "planning_started"
	EventPlanningSucceeded EventType = "planning_succeeded"
	EventPlanningFailed    EventType = "planning_failed"
	EventPlanningCancelled EventType = "planning_cancelled"
	EventPlanCacheHit      EventType = "plan_cache_hit"

	// Analysis and decomposition
	EventAnalysisCompleted      EventType = "analysis_completed"
	EventDecompositionCompleted EventType = "decomposition_completed"
	EventFallbackUsed           EventType = "fallback_used"
	EventGeneratorFailed        EventType = "generator_failed"

	// Resolution and extraction
	EventStepResolved      EventType = "step_resolved"
	EventInputUnresolved   EventType = "input_unresolved"
	EventResultRecorded    EventType = "result_recorded"
	EventExtractorFailed   EventType = "extractor_failed"
	EventToolRouted        EventType = "tool_routed"
	EventToolOutcome       EventType = "tool_outcome"
	EventSchemaReloaded    EventType = "schema_reloaded"
	EventSchemaReloadError EventType = "schema_reload_failed"
)

// EventHandler handles one event. A returned error triggers a retry.
type EventHandler func(context.Context, Event) error

// Event is something that happened while planning.
type Event interface {
	Type() EventType
	Payload() interface{}
	Metadata() map[string]interface{}
	// Timestamp is in unix nanoseconds.
	Timestamp() int64
	Source() string
}

// EventBus dispatches events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a subscription ID usable with Unsubscribe.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)
	SubscribeAll(handler EventHandler) (string, error)
	Unsubscribe(subscriptionID string) error
	Close() error
}

// BaseEvent is the stock Event implementation.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
	metadata  map[string]interface{}
	timestamp int64
	source    string
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, payload interface{}, source string, metadata map[string]interface{}) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &BaseEvent{
		eventType: eventType,
		payload:   payload,
		metadata:  metadata,
		timestamp: time.Now().UnixNano(),
		source:    source,
	}
}

func (e *BaseEvent) Type() EventType                  { return e.eventType }
func (e *BaseEvent) Payload() interface{}             { return e.payload }
func (e *BaseEvent) Metadata() map[string]interface{} { return e.metadata }
func (e *BaseEvent) Timestamp() int64                 { return e.timestamp }
func (e *BaseEvent) Source() string                   { return e.source }

// WithMetadata sets one metadata key and returns the event for chaining.
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}

// MetaString reads a string metadata value, or "" when absent.
func MetaString(e Event, key string) string {
	s, _ := e.Metadata()[key].(string)
	return s
}

// MetaFloat reads a numeric metadata value.
func MetaFloat(e Event, key string) (float64, bool) {
	switch v := e.Metadata()[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case time.Duration:
		return v.Seconds(), true
	}
	return 0, false
}

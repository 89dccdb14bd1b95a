package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the engine
type EventType string

const (
	EventZonesRebuilt      EventType = "ZONES_REBUILT"
	EventCloseDecision     EventType = "CLOSE_DECISION"
	EventPlanStatusChanged EventType = "PLAN_STATUS_CHANGED"
	EventPositionsClosed   EventType = "POSITIONS_CLOSED"
	EventCycleCompleted    EventType = "CYCLE_COMPLETED"
	EventEngineStarted     EventType = "ENGINE_STARTED"
	EventEngineStopped     EventType = "ENGINE_STOPPED"
	EventError             EventType = "ERROR"
)

// Event represents an engine event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking the decision loop
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishZonesRebuilt publishes a zone rebuild summary
func (eb *EventBus) PublishZonesRebuilt(zones, positions int, totalPnL, basePrice float64) {
	eb.Publish(Event{
		Type: EventZonesRebuilt,
		Data: map[string]interface{}{
			"zones":      zones,
			"positions":  positions,
			"total_pnl":  totalPnL,
			"base_price": basePrice,
		},
	})
}

// PublishCloseDecision publishes a decision that closes positions
func (eb *EventBus) PublishCloseDecision(decisionID, method, reason string, tickets []int64, expectedPnL float64) {
	eb.Publish(Event{
		Type: EventCloseDecision,
		Data: map[string]interface{}{
			"decision_id":  decisionID,
			"method":       method,
			"reason":       reason,
			"tickets":      tickets,
			"expected_pnl": expectedPnL,
		},
	})
}

// PublishPlanStatus publishes a plan status transition
func (eb *EventBus) PublishPlanStatus(planID, kind, status string, realized float64) {
	eb.Publish(Event{
		Type: EventPlanStatusChanged,
		Data: map[string]interface{}{
			"plan_id":         planID,
			"kind":            kind,
			"status":          status,
			"realized_profit": realized,
		},
	})
}

// PublishPositionsClosed publishes the tickets an execution closed
func (eb *EventBus) PublishPositionsClosed(planID string, tickets []int64, realized float64) {
	eb.Publish(Event{
		Type: EventPositionsClosed,
		Data: map[string]interface{}{
			"plan_id":         planID,
			"tickets":         tickets,
			"realized_profit": realized,
		},
	})
}

// PublishCycleCompleted publishes the end of one decision cycle
func (eb *EventBus) PublishCycleCompleted(decisionID, method string, shouldClose bool, duration time.Duration) {
	eb.Publish(Event{
		Type: EventCycleCompleted,
		Data: map[string]interface{}{
			"decision_id":  decisionID,
			"method":       method,
			"should_close": shouldClose,
			"duration_ms":  duration.Milliseconds(),
		},
	})
}

// PublishLifecycle publishes an engine start or stop
func (eb *EventBus) PublishLifecycle(started bool, mode string) {
	eventType := EventEngineStopped
	if started {
		eventType = EventEngineStarted
	}
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"mode": mode,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}

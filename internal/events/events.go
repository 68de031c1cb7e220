package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventTaskStarted      = "task_started"
	EventTaskCompleted    = "task_completed"
	EventTaskFailed       = "task_failed"
	EventHealthAlert      = "health_alert"
	EventRepairDispatched = "repair_dispatched"
)

// TaskEventPayload is the snapshot of one task execution.
type TaskEventPayload struct {
	Task       string    `json:"task"`
	Attempt    int       `json:"attempt,omitempty"`
	Success    int       `json:"success,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Records    int       `json:"records,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// HealthEventPayload summarizes an escalated doctor run.
type HealthEventPayload struct {
	TradeDate  string   `json:"trade_date"`
	Critical   []string `json:"critical"`
	Stubborn   []string `json:"stubborn,omitempty"`
	Dispatched int      `json:"dispatched"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged to logger.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type synchronously.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// LogSubscriber writes every lifecycle event to logger.
func LogSubscriber(bus *EventBus, logger *zerolog.Logger) {
	handler := func(e *Event) error {
		level := zerolog.InfoLevel
		if e.Type == EventTaskFailed || e.Type == EventHealthAlert {
			level = zerolog.WarnLevel
		}
		logger.WithLevel(level).Str("event", e.Type).RawJSON("payload", e.Payload).Msg("lifecycle event")
		return nil
	}
	for _, t := range []string{EventTaskStarted, EventTaskCompleted, EventTaskFailed, EventHealthAlert, EventRepairDispatched} {
		bus.Subscribe(t, handler)
	}
}

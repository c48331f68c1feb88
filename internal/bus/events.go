// Package bus carries in-process notifications about pipeline runs to
// observers such as metrics and the audit log.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"rebeca/internal/domain"
)

// Well-known event types.
const (
	EventReceived     = "event.received" // inbound event seen by the adapter
	EventRunCompleted = "run.completed"  // one per pipeline run
	EventDropped      = "event.dropped"  // inbound event filtered by the adapter
	EventReplyFailed  = "reply.failed"   // posting the reply failed
	EventReplySent    = "reply.sent"
)

// Event describes something that happened while handling one inbound event.
// Content fields are deliberately absent: observers only see metadata.
type Event struct {
	Type             string
	RunID            string
	Channel          string
	MessageTS        string
	Author           string
	Outcome          domain.Outcome
	Category         domain.Category
	Reason           string // drop reason or failed operation
	Duration         time.Duration
	InferenceLatency time.Duration
	Timestamp        time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus. Handlers run
// synchronously in registration order and a panicking handler never
// affects the emitter or other handlers.
type EventBus struct {
	handlers map[string][]namedHandler
	nextID   int
	mu       sync.RWMutex
	logger   *slog.Logger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type; "*" receives every event.
// It returns an ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers event to the handlers for its type, then to wildcard handlers.
// A nil bus is a no-op.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	if event.Type != "*" {
		handlers = append(handlers, eb.handlers["*"]...)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

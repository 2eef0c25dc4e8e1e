package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventCustomerConnected    EventType = "customer.connected"
	EventCustomerDisconnected EventType = "customer.disconnected"
	EventCustomerMessage      EventType = "customer.message"
	EventOperatorConnected    EventType = "operator.connected"
	EventOperatorDisconnected EventType = "operator.disconnected"
	EventOperatorMessage      EventType = "operator.message"

	EventTaskDelegated     EventType = "agent.delegated"
	EventResponsePublished EventType = "agent.responded"
	EventHandlerFailed     EventType = "agent.error"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventLLMCallCompleted  EventType = "llm.call.completed"
	EventDispatchFailed    EventType = "runtime.dispatch.failed"

	EventEscalationAssigned EventType = "escalation.assigned"
	EventEscalationDegraded EventType = "escalation.degraded"
	EventEscalationQueued   EventType = "escalation.queued"
	EventEscalationExpired  EventType = "escalation.expired"
	EventTransferredToAI    EventType = "transfer.to_ai"
	EventTransferFailed     EventType = "transfer.failed"
	EventResponseDelivered  EventType = "session.delivered"
	EventResponseDropped    EventType = "session.dropped"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AgentEventPayload is attached to agent.* events.
type AgentEventPayload struct {
	Role     string `json:"role"`
	Target   string `json:"target,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
}

// OperatorEventPayload is attached to operator.*, escalation.* and transfer.* events.
type OperatorEventPayload struct {
	OperatorID string `json:"operator_id,omitempty"`
	Target     string `json:"target,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// NewEvent builds an event with a JSON payload. Marshal failures leave the
// payload empty.
func NewEvent(typ EventType, sessionID string, payload any) Event {
	ev := Event{Type: typ, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

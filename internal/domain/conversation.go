package domain

import (
	"context"
	"time"
)

// ConversationTurn is one entry of a customer's conversation log.
type ConversationTurn struct {
	Content   string    `json:"content"`
	Source    string    `json:"source"`               // display label: "user", "Human_Support", "<Team>_AI"
	AgentType string    `json:"agent_type,omitempty"` // raw author role
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptStore persists per-customer conversation logs for bounded lookback.
type TranscriptStore interface {
	// Append adds turn to the end of the customer's log.
	Append(ctx context.Context, customerID string, turn ConversationTurn) error
	// Recent returns at most the last n turns in chronological order.
	Recent(ctx context.Context, customerID string, n int) ([]ConversationTurn, error)
	// Delete drops the customer's log.
	Delete(ctx context.Context, customerID string) error
}

// Transport is a live, JSON-speaking connection to a customer or operator.
type Transport interface {
	SendJSON(ctx context.Context, v any) error
	Close(reason string) error
}

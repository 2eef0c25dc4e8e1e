package domain

import "time"

// Outbound frame types.
const (
	FrameText                 = "TextMessage"
	FrameNewAssignment        = "new_assignment"
	FrameCustomerMessage      = "customer_message"
	FrameConnectionConfirmed  = "connection_confirmed"
	FrameTransferConfirmation = "transfer_confirmation"
	FrameError                = "error"
)

// Inbound operator frame types.
const (
	FrameAgentMessage = "agent_message"
	FrameTransferToAI = "transfer_to_ai"
)

// Transfer status values carried on customer frames.
const (
	TransferConnecting = "connecting"
	TransferQueued     = "queued"
	TransferredToAI    = "transferred_to_ai"
	TaskTypeEscalation = "human_escalation"
)

// TextFrame is the only frame customers receive.
type TextFrame struct {
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	Source         string    `json:"source"`
	AgentType      string    `json:"agent_type"`
	Timestamp      time.Time `json:"timestamp"`
	TransferStatus string    `json:"transfer_status,omitempty"`
}

// NewTextFrame builds a TextFrame labelled for role.
func NewTextFrame(content, role string, now time.Time) TextFrame {
	return TextFrame{
		Type:      FrameText,
		Content:   content,
		Source:    DisplayLabel(role),
		AgentType: role,
		Timestamp: now,
	}
}

// HistoryEntry is one line of the transcript shown to an operator.
type HistoryEntry struct {
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// AssignmentFrame notifies an operator of a new escalated customer.
type AssignmentFrame struct {
	Type                string         `json:"type"`
	CustomerID          string         `json:"customer_id"`
	InitialMessage      string         `json:"initial_message"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
	Timestamp           time.Time      `json:"timestamp"`
	TaskType            string         `json:"task_type"`
}

// CustomerMessageFrame relays a bound customer's message to the operator.
type CustomerMessageFrame struct {
	Type       string    `json:"type"`
	CustomerID string    `json:"customer_id"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConnectionConfirmedFrame acknowledges an operator socket.
type ConnectionConfirmedFrame struct {
	Type      string    `json:"type"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// TransferConfirmationFrame reports the outcome of a transfer_to_ai request.
type TransferConfirmationFrame struct {
	Type        string    `json:"type"`
	CustomerID  string    `json:"customer_id"`
	Success     bool      `json:"success"`
	TargetAgent string    `json:"target_agent"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorFrame reports a rejected operator request.
type ErrorFrame struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// OperatorFrame is any inbound operator frame.
type OperatorFrame struct {
	Type            string `json:"type"`
	CustomerID      string `json:"customer_id"`
	Message         string `json:"message,omitempty"`
	TransferCommand string `json:"transfer_command,omitempty"`
	TransferMessage string `json:"transfer_message,omitempty"`
}

// CustomerFrame is an inbound customer frame.
type CustomerFrame struct {
	Content string `json:"content"`
}

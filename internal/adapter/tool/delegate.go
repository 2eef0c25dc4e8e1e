package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"supportmesh/internal/domain"
)

// Delegation tool names.
const (
	TransferToTechnicalName = "transfer_to_technical"
	TransferToBillingName   = "transfer_to_billing"
	TransferToSalesName     = "transfer_to_sales"
	TransferToTriageName    = "transfer_back_to_triage"
	EscalateToHumanName     = "escalate_to_human"
)

// DelegateTool hands the conversation to another topic role. Executing it
// does nothing but name the target; the handler publishes the task.
type DelegateTool struct {
	name        string
	target      string
	description string
}

// NewDelegateTool creates a delegation tool that targets role.
func NewDelegateTool(name, target, description string) *DelegateTool {
	return &DelegateTool{name: name, target: target, description: description}
}

func (t *DelegateTool) Name() string        { return t.name }
func (t *DelegateTool) Description() string { return t.description }

// Target is the topic role this tool transfers to.
func (t *DelegateTool) Target() string { return t.target }

func (t *DelegateTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.name,
		Description: t.description,
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

func (t *DelegateTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	return TextResult(t.target), nil
}

// DelegationTools returns the standard handoff tools.
func DelegationTools() []*DelegateTool {
	return []*DelegateTool{
		NewDelegateTool(TransferToTechnicalName, domain.TechnicalAgent,
			"Transfer to technical support for hardware, software, network, installation, or troubleshooting issues."),
		NewDelegateTool(TransferToBillingName, domain.BillingAgent,
			"Transfer to billing support for payment, subscription, refund, invoice, or account billing issues."),
		NewDelegateTool(TransferToSalesName, domain.SalesAgent,
			"Transfer to sales for product information, purchasing, upgrades, or sales inquiries."),
		NewDelegateTool(TransferToTriageName, domain.TriageAgent,
			"Transfer back to triage when the topic is outside your expertise or for general routing."),
		NewDelegateTool(EscalateToHumanName, domain.HumanAgent,
			"Escalate to human agent for complex issues, complaints, or when customer explicitly requests human assistance."),
	}
}

// ActionTools returns the built-in action tools.
func ActionTools(logger *slog.Logger) []domain.Tool {
	return []domain.Tool{
		NewLookupAccountTool(logger),
		NewCreateTicketTool(logger),
		NewCheckStatusTool(logger),
	}
}

// NewCatalogs builds one registry of action tools and one of delegation
// tools, both with argument validation enabled.
func NewCatalogs(logger *slog.Logger) (actions, delegates *Registry, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	actions = NewRegistry(logger)
	for _, t := range ActionTools(logger) {
		if err := actions.Register(t); err != nil {
			return nil, nil, err
		}
	}
	delegates = NewRegistry(logger)
	for _, t := range DelegationTools() {
		if err := delegates.Register(t); err != nil {
			return nil, nil, err
		}
	}
	return actions, delegates, nil
}

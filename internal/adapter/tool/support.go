package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/tracer"
)

// Action tool names.
const (
	LookupAccountName = "lookup_account_info"
	CreateTicketName  = "create_support_ticket"
	CheckStatusName   = "check_system_status"
)

const maxIssueLength = 4000

// LookupAccountTool retrieves customer account information.
type LookupAccountTool struct {
	logger *slog.Logger
}

// NewLookupAccountTool creates the account lookup tool.
func NewLookupAccountTool(logger *slog.Logger) *LookupAccountTool {
	return &LookupAccountTool{logger: logger}
}

func (t *LookupAccountTool) Name() string        { return LookupAccountName }
func (t *LookupAccountTool) Description() string { return "Look up customer account information" }

func (t *LookupAccountTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"customer_query": {
					"type": "string",
					"description": "What to look up about the customer's account"
				}
			},
			"required": ["customer_query"]
		}`),
	}
}

type lookupParams struct {
	CustomerQuery string `json:"customer_query"`
}

func (t *LookupAccountTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.lookup_account_info", t.logger, params,
		func(_ context.Context, _ trace.Span, p lookupParams) (any, error) {
			if err := RequireField("customer_query", p.CustomerQuery); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Account info retrieved for query: %s", p.CustomerQuery), nil
		})
}

// CreateTicketTool files a support ticket. Ticket ids are derived from the
// day and a hash of the description, so repeated filings collapse.
type CreateTicketTool struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewCreateTicketTool creates the ticket tool.
func NewCreateTicketTool(logger *slog.Logger) *CreateTicketTool {
	return &CreateTicketTool{logger: logger, now: time.Now}
}

func (t *CreateTicketTool) Name() string { return CreateTicketName }
func (t *CreateTicketTool) Description() string {
	return "Create a support ticket for complex issues"
}

func (t *CreateTicketTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"issue_description": {
					"type": "string",
					"description": "Summary of the customer's issue"
				},
				"priority": {
					"type": "string",
					"description": "Ticket priority, defaults to medium"
				}
			},
			"required": ["issue_description"]
		}`),
	}
}

type ticketParams struct {
	IssueDescription string `json:"issue_description"`
	Priority         string `json:"priority"`
}

func (t *CreateTicketTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.create_support_ticket", t.logger, params,
		func(_ context.Context, span trace.Span, p ticketParams) (any, error) {
			if err := RequireField("issue_description", p.IssueDescription); err != nil {
				return nil, err
			}
			if err := ValidateMaxLength("issue_description", p.IssueDescription, maxIssueLength); err != nil {
				return nil, err
			}
			if p.Priority == "" {
				p.Priority = "medium"
			}
			id := ticketID(t.now(), p.IssueDescription)
			span.SetAttributes(tracer.StringAttr("ticket.id", id))
			return fmt.Sprintf("Support ticket created: %s (Priority: %s)", id, p.Priority), nil
		})
}

func ticketID(now time.Time, issue string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(issue))
	return fmt.Sprintf("TICKET-%s-%04d", now.Format("20060102"), h.Sum32()%10000)
}

// CheckStatusTool reports the status of a named service.
type CheckStatusTool struct {
	logger *slog.Logger
}

// NewCheckStatusTool creates the status tool.
func NewCheckStatusTool(logger *slog.Logger) *CheckStatusTool {
	return &CheckStatusTool{logger: logger}
}

func (t *CheckStatusTool) Name() string        { return CheckStatusName }
func (t *CheckStatusTool) Description() string { return "Check system or service status" }

func (t *CheckStatusTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"service_name": {
					"type": "string",
					"description": "Service or system to check"
				}
			},
			"required": ["service_name"]
		}`),
	}
}

type statusParams struct {
	ServiceName string `json:"service_name"`
}

func (t *CheckStatusTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.check_system_status", t.logger, params,
		func(_ context.Context, _ trace.Span, p statusParams) (any, error) {
			if err := RequireField("service_name", p.ServiceName); err != nil {
				return nil, err
			}
			return fmt.Sprintf("System status for %s: All services operational", p.ServiceName), nil
		})
}

package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/tracer"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
	"supportmesh/internal/usecase/eventbus"
)

// transferCommands maps operator transfer commands to AI topic roles.
var transferCommands = map[string]string{
	"transfer_to_triage":    domain.TriageAgent,
	"transfer_to_technical": domain.TechnicalAgent,
	"transfer_to_billing":   domain.BillingAgent,
	"transfer_to_sales":     domain.SalesAgent,
}

// TransferTarget resolves a transfer command to its topic role.
func TransferTarget(command string) (string, bool) {
	role, ok := transferCommands[command]
	return role, ok
}

// TransferCommands returns the supported transfer commands, sorted.
func TransferCommands() []string {
	out := make([]string, 0, len(transferCommands))
	for c := range transferCommands {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// TransferRequest asks to hand a customer from an operator back to an AI role.
type TransferRequest struct {
	OperatorID string // empty skips the ownership check
	CustomerID string
	Command    string
	Note       string // optional operator note
}

// BrokerDeps holds the dependencies of the transfer broker.
type BrokerDeps struct {
	Connections  *connection.Registry
	Publisher    actor.Publisher
	Queue        *EscalationQueue // optional, kicked when an operator frees up
	Bus          domain.EventBus  // optional
	Logger       *slog.Logger
	Lookback     int
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Broker runs the human to AI hand-back protocol.
type Broker struct {
	deps BrokerDeps
}

// NewBroker creates a transfer broker.
func NewBroker(deps BrokerDeps) *Broker {
	if deps.Bus == nil {
		deps.Bus = eventbus.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Lookback <= 0 {
		deps.Lookback = historyLookback
	}
	deps.Logger = deps.Logger.With("component", "broker")
	return &Broker{deps: deps}
}

// TransferToAI hands the customer back to the AI role named by req.Command
// and returns that role. State changes already made are kept when a later
// step fails.
func (b *Broker) TransferToAI(ctx context.Context, req TransferRequest) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "broker.transfer_to_ai",
		trace.WithAttributes(
			tracer.StringAttr("customer.id", req.CustomerID),
			tracer.StringAttr("transfer.command", req.Command),
		),
	)
	defer span.End()

	target, err := b.transfer(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		b.deps.Logger.Warn("transfer failed",
			"customer_id", req.CustomerID,
			"operator_id", req.OperatorID,
			"command", req.Command,
			"error", err,
		)
		b.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventTransferFailed, req.CustomerID, domain.OperatorEventPayload{
			OperatorID: req.OperatorID,
			Target:     target,
			Reason:     err.Error(),
		}))
		return "", err
	}
	tracer.SetOK(span)
	return target, nil
}

func (b *Broker) transfer(ctx context.Context, req TransferRequest) (string, error) {
	target, ok := TransferTarget(req.Command)
	if !ok {
		return "", domain.NewDomainError("Broker.TransferToAI", domain.ErrUnknownTransferCommand, req.Command)
	}
	if req.OperatorID != "" {
		if owner, bound := b.deps.Connections.OperatorFor(req.CustomerID); bound && owner != req.OperatorID {
			return target, domain.NewDomainError("Broker.TransferToAI", domain.ErrNotAssigned,
				fmt.Sprintf("customer %s belongs to %s", req.CustomerID, owner))
		}
	}

	turns, err := b.deps.Connections.RecentTurns(ctx, req.CustomerID, b.deps.Lookback)
	if err != nil {
		return target, err
	}
	msgs := ContextFromTurns(turns)
	if req.Note != "" {
		msgs = msgs.Append(domain.AssistantMessage{Content: domain.TextContent(operatorNoteText(req.Note)), Source: domain.HumanAgent})
	}
	msgs = msgs.Append(domain.AssistantMessage{Content: domain.TextContent(HandBackText), Source: domain.HumanAgent})

	if err := b.deps.Publisher.Publish(ctx, domain.Task{Context: msgs}, domain.TopicID{Type: target, Source: req.CustomerID}); err != nil {
		return target, err
	}

	operatorID, wasBound := b.deps.Connections.Unbind(req.CustomerID)
	if !wasBound {
		operatorID = req.OperatorID
	}
	b.deps.Logger.Info("transferred to ai", "customer_id", req.CustomerID, "operator_id", operatorID, "target", target)
	b.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventTransferredToAI, req.CustomerID, domain.OperatorEventPayload{
		OperatorID: operatorID,
		Target:     target,
	}))
	if wasBound && b.deps.Queue != nil {
		b.deps.Queue.Kick()
	}

	if conn, ok := b.deps.Connections.Customer(req.CustomerID); ok {
		notice := domain.TextFrame{
			Type:           domain.FrameText,
			Content:        handedBackNotice(target),
			Source:         domain.LabelHuman,
			AgentType:      domain.HumanAgent,
			Timestamp:      b.deps.Now(),
			TransferStatus: domain.TransferredToAI,
		}
		wctx, cancel := writeContext(ctx, b.deps.WriteTimeout)
		err := conn.SendJSON(wctx, notice)
		cancel()
		if err != nil {
			return target, fmt.Errorf("notify customer: %w", err)
		}
	}
	return target, nil
}

// ContextFromTurns rebuilds a conversation context from logged turns. Turns
// from unknown sources are skipped.
func ContextFromTurns(turns []domain.ConversationTurn) domain.MessageList {
	msgs := make(domain.MessageList, 0, len(turns))
	for _, t := range turns {
		switch {
		case t.Source == domain.LabelUser:
			msgs = append(msgs, domain.UserMessage{Content: t.Content, Source: domain.User})
		case domain.IsHumanLabel(t.Source):
			msgs = append(msgs, domain.AssistantMessage{Content: domain.TextContent(t.Content), Source: domain.HumanAgent})
		case domain.IsAILabel(t.Source):
			role := t.AgentType
			if role == "" {
				role = "Assistant"
			}
			msgs = append(msgs, domain.AssistantMessage{Content: domain.TextContent(t.Content), Source: role})
		}
	}
	return msgs
}

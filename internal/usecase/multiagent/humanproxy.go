package multiagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/tracer"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
	"supportmesh/internal/usecase/eventbus"
)

// historyLookback is the number of context messages shown to an operator.
const historyLookback = 10

// HumanProxyDeps holds the dependencies of the human proxy.
type HumanProxyDeps struct {
	Connections *connection.Registry
	Publisher   actor.Publisher
	Bus         domain.EventBus // optional
	Logger      *slog.Logger

	// QueueWhenBusy parks escalations while every connected operator is busy
	// instead of degrading at once.
	QueueWhenBusy   bool
	DeliveryTimeout time.Duration
	Now             func() time.Time
}

// HumanProxy represents the pool of live operators as the HumanAgent actor.
type HumanProxy struct {
	deps HumanProxyDeps
}

var _ actor.Actor = (*HumanProxy)(nil)

// NewHumanProxy creates the human proxy actor.
func NewHumanProxy(deps HumanProxyDeps) *HumanProxy {
	if deps.Bus == nil {
		deps.Bus = eventbus.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Logger = deps.Logger.With("component", "human_proxy")
	return &HumanProxy{deps: deps}
}

// Factory returns an actor factory for the runtime.
func (h *HumanProxy) Factory() actor.Factory {
	return func() actor.Actor { return h }
}

// Handle implements actor.Actor.
func (h *HumanProxy) Handle(ctx context.Context, mc actor.MessageContext, payload any) error {
	task, ok := payload.(domain.Task)
	if !ok {
		return domain.NewDomainError("HumanProxy.Handle", domain.ErrInvalidInput, fmt.Sprintf("unexpected payload %T", payload))
	}
	customerID := mc.Topic.Source

	ctx, span := tracer.StartSpan(ctx, "human_proxy.escalate",
		trace.WithAttributes(tracer.StringAttr("customer.id", customerID)),
	)
	defer span.End()

	if op, bound := h.deps.Connections.OperatorFor(customerID); bound {
		h.deps.Logger.Info("duplicate escalation ignored", "customer_id", customerID, "operator_id", op)
		return nil
	}
	if h.deps.Connections.IsPending(customerID) {
		h.deps.Logger.Info("escalation already queued", "customer_id", customerID)
		return nil
	}

	operatorID, err := h.deps.Connections.AssignOperator(customerID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyAssigned):
		h.deps.Logger.Info("duplicate escalation ignored", "customer_id", customerID, "operator_id", operatorID)
		return nil
	case errors.Is(err, domain.ErrCustomerNotConnected):
		h.deps.Logger.Info("escalation for departed customer dropped", "customer_id", customerID)
		return nil
	case errors.Is(err, domain.ErrNoOperatorAvailable):
		if h.deps.QueueWhenBusy && h.deps.Connections.ConnectedOperatorCount() > 0 {
			return h.park(ctx, customerID, task)
		}
		h.emit(ctx, domain.EventEscalationDegraded, customerID, domain.OperatorEventPayload{Reason: "no operator available"})
		return h.degrade(ctx, customerID, task)
	default:
		tracer.RecordError(span, err)
		return err
	}

	span.SetAttributes(tracer.StringAttr("operator.id", operatorID))
	if err := h.deliver(ctx, customerID, operatorID, task); err != nil {
		tracer.RecordError(span, err)
		h.deps.Logger.Warn("assignment delivery failed", "customer_id", customerID, "operator_id", operatorID, "error", err)
		h.deps.Connections.UnbindIf(customerID, operatorID)
		h.emit(ctx, domain.EventEscalationDegraded, customerID, domain.OperatorEventPayload{
			OperatorID: operatorID,
			Reason:     "delivery failed",
		})
		return h.degrade(ctx, customerID, task)
	}

	h.deps.Logger.Info("customer assigned", "customer_id", customerID, "operator_id", operatorID)
	h.emit(ctx, domain.EventEscalationAssigned, customerID, domain.OperatorEventPayload{OperatorID: operatorID})

	notice := domain.TextFrame{
		Type:           domain.FrameText,
		Content:        ConnectingText,
		Source:         domain.LabelHuman,
		AgentType:      domain.LabelHuman,
		Timestamp:      h.deps.Now(),
		TransferStatus: domain.TransferConnecting,
	}
	if err := h.sendCustomer(ctx, customerID, notice); err != nil {
		h.deps.Logger.Debug("connecting notice not delivered", "customer_id", customerID, "error", err)
	}
	tracer.SetOK(span)
	return nil
}

// deliver sends the assignment frame to the operator.
func (h *HumanProxy) deliver(ctx context.Context, customerID, operatorID string, task domain.Task) error {
	conn, ok := h.deps.Connections.Operator(operatorID)
	if !ok {
		return domain.NewDomainError("HumanProxy.deliver", domain.ErrOperatorNotConnected, operatorID)
	}
	initial, ok := task.Context.LatestUserText()
	if !ok || initial == "" {
		initial = defaultInitialMessage
	}
	frame := domain.AssignmentFrame{
		Type:                domain.FrameNewAssignment,
		CustomerID:          customerID,
		InitialMessage:      initial,
		ConversationHistory: BuildHistory(task.Context, historyLookback, h.deps.Now()),
		Timestamp:           h.deps.Now(),
		TaskType:            domain.TaskTypeEscalation,
	}
	wctx, cancel := writeContext(ctx, h.deps.DeliveryTimeout)
	defer cancel()
	return conn.SendJSON(wctx, frame)
}

// park queues the escalation until an operator frees up.
func (h *HumanProxy) park(ctx context.Context, customerID string, task domain.Task) error {
	parked, err := h.deps.Connections.Park(customerID, task)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotConnected) {
			return nil
		}
		return err
	}
	if !parked {
		return nil
	}
	h.deps.Logger.Info("escalation queued", "customer_id", customerID)
	h.emit(ctx, domain.EventEscalationQueued, customerID, domain.OperatorEventPayload{Reason: "all operators busy"})

	notice := domain.TextFrame{
		Type:           domain.FrameText,
		Content:        QueuedText,
		Source:         domain.LabelHuman,
		AgentType:      domain.LabelHuman,
		Timestamp:      h.deps.Now(),
		TransferStatus: domain.TransferQueued,
	}
	if err := h.sendCustomer(ctx, customerID, notice); err != nil {
		h.deps.Logger.Debug("queued notice not delivered", "customer_id", customerID, "error", err)
	}
	return nil
}

// degrade answers with the fixed no-agents text on behalf of HumanAgent.
func (h *HumanProxy) degrade(ctx context.Context, customerID string, task domain.Task) error {
	return publishNoAgents(ctx, h.deps.Publisher, customerID, task.Context)
}

func publishNoAgents(ctx context.Context, pub actor.Publisher, customerID string, msgs domain.MessageList) error {
	msgs = msgs.Append(domain.AssistantMessage{Content: domain.TextContent(NoAgentsText), Source: domain.HumanAgent})
	resp := domain.AgentResponse{Context: msgs, ReplyToTopicType: domain.HumanAgent}
	return pub.Publish(ctx, resp, domain.TopicID{Type: domain.User, Source: customerID})
}

func (h *HumanProxy) sendCustomer(ctx context.Context, customerID string, frame any) error {
	conn, ok := h.deps.Connections.Customer(customerID)
	if !ok {
		return domain.NewDomainError("HumanProxy.sendCustomer", domain.ErrCustomerNotConnected, customerID)
	}
	wctx, cancel := writeContext(ctx, h.deps.DeliveryTimeout)
	defer cancel()
	return conn.SendJSON(wctx, frame)
}

// writeContext bounds one transport write. A zero timeout only inherits ctx.
func writeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (h *HumanProxy) emit(ctx context.Context, typ domain.EventType, customerID string, payload any) {
	h.deps.Bus.Publish(ctx, domain.NewEvent(typ, customerID, payload))
}

// BuildHistory renders the last n context messages as operator-readable
// transcript lines.
func BuildHistory(msgs domain.MessageList, n int, now time.Time) []domain.HistoryEntry {
	tail := msgs.Tail(n)
	history := make([]domain.HistoryEntry, 0, len(tail))
	for _, m := range tail {
		switch v := m.(type) {
		case domain.UserMessage:
			history = append(history, domain.HistoryEntry{Content: v.Content, Source: domain.LabelUser, Timestamp: now})
		case domain.AssistantMessage:
			history = append(history, domain.HistoryEntry{Content: RenderContent(v.Content), Source: v.Source, Timestamp: now})
		case domain.FunctionResultMessage:
			history = append(history, domain.HistoryEntry{Content: renderResults(v.Results), Source: domain.LabelSystem, Timestamp: now})
		}
	}
	return history
}

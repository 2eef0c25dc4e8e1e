package multiagent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"supportmesh/internal/domain"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
	"supportmesh/internal/usecase/eventbus"
)

// RouteKind says where an inbound customer message goes.
type RouteKind int

const (
	// RouteAI publishes a Task to an AI role.
	RouteAI RouteKind = iota
	// RouteOperator relays the message to the bound operator.
	RouteOperator
	// RoutePending adds the message to a queued escalation.
	RoutePending
)

// Route is the routing decision for one customer message.
type Route struct {
	Kind       RouteKind
	Role       string // RouteAI only
	OperatorID string // RouteOperator only
}

// RouterDeps holds the dependencies of the inbound router.
type RouterDeps struct {
	Connections *connection.Registry
	Publisher   actor.Publisher
	Bus         domain.EventBus // optional
	Logger      *slog.Logger

	DefaultRole  string // empty = TriageAgent
	Sticky       bool   // follow-ups go to the AI role that answered last
	Lookback     int
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Router turns inbound customer and operator messages into runtime traffic.
type Router struct {
	deps RouterDeps
}

// NewRouter creates an inbound router.
func NewRouter(deps RouterDeps) *Router {
	if deps.Bus == nil {
		deps.Bus = eventbus.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DefaultRole == "" {
		deps.DefaultRole = domain.TriageAgent
	}
	if deps.Lookback <= 0 {
		deps.Lookback = historyLookback
	}
	deps.Logger = deps.Logger.With("component", "router")
	return &Router{deps: deps}
}

// Route decides where the customer's next message goes.
func (r *Router) Route(customerID string) Route {
	if op, ok := r.deps.Connections.OperatorFor(customerID); ok {
		return Route{Kind: RouteOperator, OperatorID: op}
	}
	if r.deps.Connections.IsPending(customerID) {
		return Route{Kind: RoutePending}
	}
	if r.deps.Sticky {
		if role, ok := r.deps.Connections.ActiveRole(customerID); ok {
			r.deps.Logger.Debug("sticky route", "customer_id", customerID, "role", role)
			return Route{Kind: RouteAI, Role: role}
		}
	}
	r.deps.Logger.Debug("routing to default role", "customer_id", customerID, "role", r.deps.DefaultRole)
	return Route{Kind: RouteAI, Role: r.deps.DefaultRole}
}

// CustomerMessage logs and routes one customer message. Blank messages are
// ignored.
func (r *Router) CustomerMessage(ctx context.Context, customerID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	logged := true
	if err := r.deps.Connections.AppendTurn(ctx, customerID, domain.ConversationTurn{
		Content: text,
		Source:  domain.LabelUser,
	}); err != nil {
		logged = false
		r.deps.Logger.Warn("failed to log customer turn", "customer_id", customerID, "error", err)
	}
	r.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventCustomerMessage, customerID, nil))

	route := r.Route(customerID)
	if route.Kind == RoutePending {
		if r.deps.Connections.AppendPending(customerID, domain.UserMessage{Content: text, Source: domain.User}) {
			return r.notifyQueued(ctx, customerID)
		}
		// Picked up meanwhile.
		route = r.Route(customerID)
	}
	if route.Kind == RouteOperator {
		err := r.relay(ctx, customerID, route.OperatorID, text)
		if err == nil {
			return nil
		}
		// The operator is gone; the customer returns to the AI side.
		r.deps.Logger.Warn("relay to operator failed", "customer_id", customerID, "operator_id", route.OperatorID, "error", err)
		r.deps.Connections.UnbindIf(customerID, route.OperatorID)
		route = Route{Kind: RouteAI, Role: r.deps.DefaultRole}
	}
	if route.Kind != RouteAI {
		route = Route{Kind: RouteAI, Role: r.deps.DefaultRole}
	}

	turns, err := r.deps.Connections.RecentTurns(ctx, customerID, r.deps.Lookback)
	if err != nil {
		r.deps.Logger.Warn("failed to read conversation log", "customer_id", customerID, "error", err)
	}
	msgs := ContextFromTurns(turns)
	if !logged || err != nil {
		msgs = msgs.Append(domain.UserMessage{Content: text, Source: domain.User})
	}
	return r.deps.Publisher.Publish(ctx, domain.Task{Context: msgs}, domain.TopicID{Type: route.Role, Source: customerID})
}

func (r *Router) relay(ctx context.Context, customerID, operatorID, text string) error {
	conn, ok := r.deps.Connections.Operator(operatorID)
	if !ok {
		return domain.NewDomainError("Router.relay", domain.ErrOperatorNotConnected, operatorID)
	}
	frame := domain.CustomerMessageFrame{
		Type:       domain.FrameCustomerMessage,
		CustomerID: customerID,
		Message:    text,
		Timestamp:  r.deps.Now(),
	}
	wctx, cancel := writeContext(ctx, r.deps.WriteTimeout)
	defer cancel()
	return conn.SendJSON(wctx, frame)
}

func (r *Router) notifyQueued(ctx context.Context, customerID string) error {
	conn, ok := r.deps.Connections.Customer(customerID)
	if !ok {
		return nil
	}
	frame := domain.TextFrame{
		Type:           domain.FrameText,
		Content:        QueuedText,
		Source:         domain.LabelHuman,
		AgentType:      domain.LabelHuman,
		Timestamp:      r.deps.Now(),
		TransferStatus: domain.TransferQueued,
	}
	wctx, cancel := writeContext(ctx, r.deps.WriteTimeout)
	defer cancel()
	return conn.SendJSON(wctx, frame)
}

// OperatorMessage publishes an operator's reply to a customer bound to that
// operator. The session actor delivers and logs it.
func (r *Router) OperatorMessage(ctx context.Context, operatorID, customerID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if owner, ok := r.deps.Connections.OperatorFor(customerID); !ok || owner != operatorID {
		return domain.NewDomainError("Router.OperatorMessage", domain.ErrNotAssigned, customerID)
	}
	turns, err := r.deps.Connections.RecentTurns(ctx, customerID, r.deps.Lookback)
	if err != nil {
		r.deps.Logger.Warn("failed to read conversation log", "customer_id", customerID, "error", err)
	}
	msgs := ContextFromTurns(turns).Append(domain.AssistantMessage{Content: domain.TextContent(text), Source: domain.HumanAgent})
	r.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventOperatorMessage, customerID, domain.OperatorEventPayload{OperatorID: operatorID}))
	resp := domain.AgentResponse{Context: msgs, ReplyToTopicType: domain.HumanAgent}
	return r.deps.Publisher.Publish(ctx, resp, domain.TopicID{Type: domain.User, Source: customerID})
}

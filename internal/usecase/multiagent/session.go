package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"supportmesh/internal/domain"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
	"supportmesh/internal/usecase/eventbus"
)

// SessionDeps holds the dependencies of the session actor.
type SessionDeps struct {
	Connections  *connection.Registry
	Bus          domain.EventBus // optional
	Logger       *slog.Logger
	WriteTimeout time.Duration
	Now          func() time.Time
}

// SessionAgent is the User-topic actor. It forwards finished turns to the
// customer's live transport and records them in the conversation log.
type SessionAgent struct {
	deps SessionDeps
}

var _ actor.Actor = (*SessionAgent)(nil)

// NewSessionAgent creates the session actor.
func NewSessionAgent(deps SessionDeps) *SessionAgent {
	if deps.Bus == nil {
		deps.Bus = eventbus.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Logger = deps.Logger.With("component", "session")
	return &SessionAgent{deps: deps}
}

// Factory returns an actor factory for the runtime.
func (s *SessionAgent) Factory() actor.Factory {
	return func() actor.Actor { return s }
}

// Handle implements actor.Actor.
func (s *SessionAgent) Handle(ctx context.Context, mc actor.MessageContext, payload any) error {
	switch p := payload.(type) {
	case domain.Login:
		customerID := p.CustomerID
		if customerID == "" {
			customerID = mc.Topic.Source
		}
		return s.greet(ctx, customerID)
	case domain.AgentResponse:
		return s.forward(ctx, mc.Topic.Source, p)
	default:
		return domain.NewDomainError("SessionAgent.Handle", domain.ErrInvalidInput, fmt.Sprintf("unexpected payload %T", payload))
	}
}

func (s *SessionAgent) greet(ctx context.Context, customerID string) error {
	frame := domain.NewTextFrame(GreetingText, domain.TriageAgent, s.deps.Now())
	if err := s.send(ctx, customerID, frame); err != nil {
		s.deps.Logger.Debug("greeting not delivered", "customer_id", customerID, "error", err)
	}
	return nil
}

func (s *SessionAgent) forward(ctx context.Context, customerID string, resp domain.AgentResponse) error {
	latest, ok := resp.Context.LatestAssistant()
	if !ok {
		s.deps.Logger.Debug("response without assistant message", "customer_id", customerID)
		return nil
	}

	content := RenderContent(latest.Content)
	frame := domain.NewTextFrame(content, latest.Source, s.deps.Now())

	if err := s.send(ctx, customerID, frame); err != nil {
		s.deps.Logger.Debug("response dropped", "customer_id", customerID, "role", latest.Source, "error", err)
		s.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventResponseDropped, customerID, domain.AgentEventPayload{
			Role:  latest.Source,
			Error: err.Error(),
		}))
	} else {
		s.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventResponseDelivered, customerID, domain.AgentEventPayload{
			Role: latest.Source,
		}))
	}

	turn := domain.ConversationTurn{
		Content:   content,
		Source:    frame.Source,
		AgentType: latest.Source,
		Timestamp: frame.Timestamp,
	}
	if err := s.deps.Connections.AppendTurn(ctx, customerID, turn); err != nil {
		s.deps.Logger.Warn("failed to log turn", "customer_id", customerID, "error", err)
	}
	if domain.IsAIRole(resp.ReplyToTopicType) {
		s.deps.Connections.SetActiveRole(customerID, resp.ReplyToTopicType)
	}
	return nil
}

// send writes frame to the customer. A departed customer is not an error
// for the caller; the frame is simply dropped.
func (s *SessionAgent) send(ctx context.Context, customerID string, frame any) error {
	conn, ok := s.deps.Connections.Customer(customerID)
	if !ok {
		return domain.NewDomainError("SessionAgent.send", domain.ErrCustomerNotConnected, customerID)
	}
	wctx, cancel := writeContext(ctx, s.deps.WriteTimeout)
	defer cancel()
	return conn.SendJSON(wctx, frame)
}

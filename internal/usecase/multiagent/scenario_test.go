package multiagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportmesh/internal/domain"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
)

// system wires every actor onto a real runtime.
type system struct {
	rt     *actor.Runtime
	reg    *connection.Registry
	bus    *recordingBus
	router *Router
	broker *Broker
}

func newSystem(t *testing.T, llms map[string]*scriptedLLM) *system {
	t.Helper()
	s := &system{reg: newConnections(), bus: &recordingBus{}}
	s.rt = actor.New(s.bus, discardLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.rt.Close(ctx)
	})

	delegates := map[string]toolSet{
		domain.TriageAgent: tools(
			delegateTo("transfer_to_technical", domain.TechnicalAgent),
			delegateTo("escalate_to_human", domain.HumanAgent),
		),
		domain.TechnicalAgent: tools(
			delegateTo("transfer_back_to_triage", domain.TriageAgent),
			delegateTo("escalate_to_human", domain.HumanAgent),
		),
	}
	for role, llm := range llms {
		spec := NewSpecialist(SpecialistDeps{
			Identity:  domain.AgentIdentity{ID: role, SystemPrompt: role + " prompt"},
			LLM:       llm,
			Actions:   tools(),
			Delegates: delegates[role],
			Publisher: s.rt,
			Bus:       s.bus,
			Logger:    discardLogger(),
		})
		register(t, s.rt, role, spec.Factory())
	}

	proxy := NewHumanProxy(HumanProxyDeps{Connections: s.reg, Publisher: s.rt, Bus: s.bus, Logger: discardLogger()})
	register(t, s.rt, domain.HumanAgent, proxy.Factory())
	session := NewSessionAgent(SessionDeps{Connections: s.reg, Bus: s.bus, Logger: discardLogger()})
	register(t, s.rt, domain.User, session.Factory())

	s.router = NewRouter(RouterDeps{Connections: s.reg, Publisher: s.rt, Bus: s.bus, Logger: discardLogger()})
	s.broker = NewBroker(BrokerDeps{Connections: s.reg, Publisher: s.rt, Bus: s.bus, Logger: discardLogger()})
	return s
}

func register(t *testing.T, rt *actor.Runtime, role string, f actor.Factory) {
	t.Helper()
	require.NoError(t, rt.RegisterActorType(role, f))
	require.NoError(t, rt.AddSubscription(role, role))
}

func TestScenarioTriageDelegatesToTechnical(t *testing.T) {
	triage := newScriptedLLM(callTools(call("d1", "transfer_to_technical", "")))
	technical := newScriptedLLM(reply("Have you tried restarting your router?"))
	s := newSystem(t, map[string]*scriptedLLM{
		domain.TriageAgent:    triage,
		domain.TechnicalAgent: technical,
	})
	customer := connectCustomer(t, s.reg, "c1")

	require.NoError(t, s.rt.Publish(context.Background(), domain.Login{CustomerID: "c1"}, domain.TopicID{Type: domain.User, Source: "c1"}))
	waitIdle(t, s.rt)
	require.NoError(t, s.router.CustomerMessage(context.Background(), "c1", "my wifi is down"))
	waitIdle(t, s.rt)

	frames := customer.TextFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, "Triage_AI", frames[0].Source)
	assert.Equal(t, "Have you tried restarting your router?", frames[1].Content)
	assert.Equal(t, "Technical_AI", frames[1].Source)
	assert.Equal(t, domain.TechnicalAgent, frames[1].AgentType)

	reqs := technical.Requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 3)
	frm := msgs[2].(domain.FunctionResultMessage)
	assert.Equal(t, "Transferred to TechnicalAgent. Adopt persona immediately.", frm.Results[0].Content)

	role, ok := s.reg.ActiveRole("c1")
	require.True(t, ok)
	assert.Equal(t, domain.TechnicalAgent, role)

	turns, err := s.reg.RecentTurns(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Technical_AI", turns[1].Source)
}

func TestScenarioEscalationRoundTrip(t *testing.T) {
	triage := newScriptedLLM(
		callTools(call("e1", "escalate_to_human", "")),
		reply("Welcome back! Anything else?"),
	)
	s := newSystem(t, map[string]*scriptedLLM{domain.TriageAgent: triage})
	customer := connectCustomer(t, s.reg, "c1")
	op := connectOperator(t, s.reg, "op-a")
	ctx := context.Background()

	// Escalate.
	require.NoError(t, s.router.CustomerMessage(ctx, "c1", "I want to talk to a person"))
	waitIdle(t, s.rt)

	owner, bound := s.reg.OperatorFor("c1")
	require.True(t, bound)
	assert.Equal(t, "op-a", owner)
	assignments := op.Assignments()
	require.Len(t, assignments, 1)
	assert.Equal(t, "I want to talk to a person", assignments[0].InitialMessage)
	require.Len(t, customer.TextFrames(), 1)
	assert.Equal(t, domain.TransferConnecting, customer.TextFrames()[0].TransferStatus)

	// Operator replies; customer answers and the message is relayed.
	require.NoError(t, s.router.OperatorMessage(ctx, "op-a", "c1", "Hi, how can I help?"))
	waitIdle(t, s.rt)
	frames := customer.TextFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, "Human_Support", frames[1].Source)

	require.NoError(t, s.router.CustomerMessage(ctx, "c1", "my invoice is wrong"))
	waitIdle(t, s.rt)
	relayed := op.Frames()
	require.Len(t, relayed, 2)
	assert.Equal(t, "my invoice is wrong", relayed[1].(domain.CustomerMessageFrame).Message)
	assert.Len(t, triage.Requests(), 1, "bound customers bypass the AI side")

	// Hand back.
	target, err := s.broker.TransferToAI(ctx, TransferRequest{OperatorID: "op-a", CustomerID: "c1", Command: "transfer_to_triage"})
	require.NoError(t, err)
	assert.Equal(t, domain.TriageAgent, target)
	waitIdle(t, s.rt)

	_, bound = s.reg.OperatorFor("c1")
	assert.False(t, bound)
	assert.Equal(t, []string{"op-a"}, s.reg.AvailableOperators())

	reqs := triage.Requests()
	require.Len(t, reqs, 2)
	handBack := reqs[1].Messages
	last := handBack[len(handBack)-1].(domain.AssistantMessage)
	text, _ := last.Content.Text()
	assert.Equal(t, HandBackText, text)
	assert.Equal(t, domain.HumanAgent, last.Source)

	frames = customer.TextFrames()
	require.Len(t, frames, 4)
	assert.Equal(t, domain.TransferredToAI, frames[2].TransferStatus)
	assert.Equal(t, "Welcome back! Anything else?", frames[3].Content)
	assert.Equal(t, "Triage_AI", frames[3].Source)
}

func TestScenarioDepartedCustomerCancelsWork(t *testing.T) {
	triage := newScriptedLLM()
	s := newSystem(t, map[string]*scriptedLLM{domain.TriageAgent: triage})
	blocking := newBlockingLLM()
	spec := NewSpecialist(SpecialistDeps{
		Identity:  domain.AgentIdentity{ID: domain.SalesAgent},
		LLM:       blocking,
		Publisher: s.rt,
		Logger:    discardLogger(),
	})
	register(t, s.rt, domain.SalesAgent, spec.Factory())
	customer := connectCustomer(t, s.reg, "c1")

	require.NoError(t, s.rt.Publish(context.Background(), userTask("pricing?"), domain.TopicID{Type: domain.SalesAgent, Source: "c1"}))
	<-blocking.started

	s.rt.CancelSource("c1")
	s.reg.DisconnectCustomer(context.Background(), "c1")
	waitIdle(t, s.rt)

	assert.Empty(t, customer.Frames())
	assert.Zero(t, s.bus.Count(domain.EventHandlerFailed))
}

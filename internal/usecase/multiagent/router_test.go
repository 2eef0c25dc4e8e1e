package multiagent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportmesh/internal/domain"
	"supportmesh/internal/usecase/connection"
)

type routerFixture struct {
	reg    *connection.Registry
	pub    *recordingPublisher
	bus    *recordingBus
	router *Router
}

func newRouterFixture(sticky bool) *routerFixture {
	f := &routerFixture{reg: newConnections(), pub: &recordingPublisher{}, bus: &recordingBus{}}
	f.router = NewRouter(RouterDeps{
		Connections: f.reg,
		Publisher:   f.pub,
		Bus:         f.bus,
		Logger:      discardLogger(),
		Sticky:      sticky,
		Now:         clock,
	})
	return f
}

func TestRouterNewCustomerGoesToTriage(t *testing.T) {
	f := newRouterFixture(false)
	connectCustomer(t, f.reg, "c1")

	require.NoError(t, f.router.CustomerMessage(context.Background(), "c1", "my wifi is down"))

	msgs := f.pub.All()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.TopicID{Type: domain.TriageAgent, Source: "c1"}, msgs[0].topic)
	task := msgs[0].payload.(domain.Task)
	text, ok := task.Context.LatestUserText()
	require.True(t, ok)
	assert.Equal(t, "my wifi is down", text)
	assert.Len(t, task.Context, 1, "the logged turn is not duplicated")
	assert.Equal(t, 1, f.bus.Count(domain.EventCustomerMessage))
}

func TestRouterIgnoresBlankMessages(t *testing.T) {
	f := newRouterFixture(false)
	connectCustomer(t, f.reg, "c1")

	require.NoError(t, f.router.CustomerMessage(context.Background(), "c1", "   "))
	assert.Empty(t, f.pub.All())
	turns, _ := f.reg.RecentTurns(context.Background(), "c1", 10)
	assert.Empty(t, turns)
}

func TestRouterCarriesRecentTurns(t *testing.T) {
	f := newRouterFixture(false)
	connectCustomer(t, f.reg, "c1")
	require.NoError(t, f.reg.AppendTurn(context.Background(), "c1", domain.ConversationTurn{Content: "first", Source: domain.LabelUser}))
	require.NoError(t, f.reg.AppendTurn(context.Background(), "c1", domain.ConversationTurn{
		Content: "Have you tried restarting?", Source: "Technical_AI", AgentType: domain.TechnicalAgent,
	}))

	require.NoError(t, f.router.CustomerMessage(context.Background(), "c1", "yes, still down"))

	task := f.pub.All()[0].payload.(domain.Task)
	require.Len(t, task.Context, 3)
	assert.Equal(t, domain.TechnicalAgent, task.Context[1].(domain.AssistantMessage).Source)
}

func TestRouterSticky(t *testing.T) {
	for _, sticky := range []bool{false, true} {
		f := newRouterFixture(sticky)
		connectCustomer(t, f.reg, "c1")
		f.reg.SetActiveRole("c1", domain.BillingAgent)

		route := f.router.Route("c1")
		assert.Equal(t, RouteAI, route.Kind)
		if sticky {
			assert.Equal(t, domain.BillingAgent, route.Role)
		} else {
			assert.Equal(t, domain.TriageAgent, route.Role)
		}
	}
}

func TestRouterRelaysToBoundOperator(t *testing.T) {
	f := newRouterFixture(false)
	connectCustomer(t, f.reg, "c1")
	op := connectOperator(t, f.reg, "op-a")
	_, err := f.reg.AssignOperator("c1")
	require.NoError(t, err)

	assert.Equal(t, Route{Kind: RouteOperator, OperatorID: "op-a"}, f.router.Route("c1"))
	require.NoError(t, f.router.CustomerMessage(context.Background(), "c1", "are you there?"))

	assert.Empty(t, f.pub.All(), "no AI task while bound")
	frames := op.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, domain.CustomerMessageFrame{
		Type:       domain.FrameCustomerMessage,
		CustomerID: "c1",
		Message:    "are you there?",
		Timestamp:  fixedNow,
	}, frames[0])
}

func TestRouterFallsBackWhenRelayFails(t *testing.T) {
	f := newRouterFixture(false)
	connectCustomer(t, f.reg, "c1")
	op := connectOperator(t, f.reg, "op-a")
	op.err = errors.New("gone")
	_, err := f.reg.AssignOperator("c1")
	require.NoError(t, err)

	require.NoError(t, f.router.CustomerMessage(context.Background(), "c1", "hello?"))

	_, bound := f.reg.OperatorFor("c1")
	assert.False(t, bound)
	msgs := f.pub.All()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.TriageAgent, msgs[0].topic.Type)
}

func TestRouterAppendsToPendingEscalation(t *testing.T) {
	f := newRouterFixture(false)
	customer := connectCustomer(t, f.reg, "c1")
	_, err := f.reg.Park("c1", userTask("need a human"))
	require.NoError(t, err)

	assert.Equal(t, RoutePending, f.router.Route("c1").Kind)
	require.NoError(t, f.router.CustomerMessage(context.Background(), "c1", "still waiting"))

	assert.Empty(t, f.pub.All())
	task, ok := f.reg.TakePending("c1")
	require.True(t, ok)
	text, _ := task.Context.LatestUserText()
	assert.Equal(t, "still waiting", text)

	notices := customer.TextFrames()
	require.Len(t, notices, 1)
	assert.Equal(t, domain.TransferQueued, notices[0].TransferStatus)
}

func TestRouterOperatorMessage(t *testing.T) {
	f := newRouterFixture(false)
	connectCustomer(t, f.reg, "c1")
	connectOperator(t, f.reg, "op-a")
	connectOperator(t, f.reg, "op-b")
	_, err := f.reg.AssignOperator("c1")
	require.NoError(t, err)

	require.NoError(t, f.router.OperatorMessage(context.Background(), "op-a", "c1", "Hi, I'm Dana."))

	msgs := f.pub.All()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.TopicID{Type: domain.User, Source: "c1"}, msgs[0].topic)
	resp := msgs[0].payload.(domain.AgentResponse)
	assert.Equal(t, domain.HumanAgent, resp.ReplyToTopicType)
	text, source := lastText(t, resp.Context)
	assert.Equal(t, "Hi, I'm Dana.", text)
	assert.Equal(t, domain.HumanAgent, source)
	assert.Equal(t, 1, f.bus.Count(domain.EventOperatorMessage))

	err = f.router.OperatorMessage(context.Background(), "op-b", "c1", "not mine")
	assert.ErrorIs(t, err, domain.ErrNotAssigned)

	require.NoError(t, f.router.OperatorMessage(context.Background(), "op-a", "c1", ""))
	assert.Len(t, f.pub.All(), 1)
}

package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/tracer"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/eventbus"
)

// SpecialistDeps holds the dependencies of an AI specialist.
type SpecialistDeps struct {
	Identity      domain.AgentIdentity
	LLM           domain.LLMProvider
	Actions       domain.ToolExecutor // side-effecting tools
	Delegates     domain.ToolExecutor // handoff tools, results name a topic role
	Publisher     actor.Publisher
	Bus           domain.EventBus // optional
	Logger        *slog.Logger
	MaxIterations int
	CallTimeout   time.Duration // per inference call, 0 = none
	MaxTokens     int
	Temperature   float64
}

// Specialist drives the inference and tool loop for one persona. It keeps
// no per-conversation state; everything travels in the Task.
type Specialist struct {
	deps SpecialistDeps
}

var _ actor.Actor = (*Specialist)(nil)

// NewSpecialist creates a specialist with the given dependencies.
func NewSpecialist(deps SpecialistDeps) *Specialist {
	// Identity.MaxIter overrides MaxIterations when set.
	if deps.Identity.MaxIter > 0 {
		deps.MaxIterations = deps.Identity.MaxIter
	}
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 10
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "specialist", "role", deps.Identity.ID)
	return &Specialist{deps: deps}
}

// Role is the topic type this specialist serves.
func (s *Specialist) Role() string { return s.deps.Identity.ID }

// Factory returns an actor factory for the runtime.
func (s *Specialist) Factory() actor.Factory {
	return func() actor.Actor { return s }
}

// callOutcome classifies one requested tool call.
type callOutcome int

const (
	outcomeAction callOutcome = iota
	outcomeDelegate
	outcomeUnknown
)

func (o callOutcome) String() string {
	switch o {
	case outcomeAction:
		return "action"
	case outcomeDelegate:
		return "delegate"
	default:
		return "unknown"
	}
}

type plannedCall struct {
	call    domain.ToolCall
	tool    domain.Tool
	outcome callOutcome
}

// batchResult is what executing one batch of tool calls produced.
type batchResult struct {
	results  []domain.FunctionResult
	handoffs []handoff // distinct targets, first call wins
	err      error
}

type handoff struct {
	target string
	call   domain.ToolCall
}

// Handle implements actor.Actor.
func (s *Specialist) Handle(ctx context.Context, mc actor.MessageContext, payload any) error {
	task, ok := payload.(domain.Task)
	if !ok {
		return domain.NewDomainError("Specialist.Handle", domain.ErrInvalidInput, fmt.Sprintf("unexpected payload %T", payload))
	}
	source := mc.Topic.Source

	ctx, span := tracer.StartSpan(ctx, "specialist.handle",
		trace.WithAttributes(
			tracer.StringAttr("agent.role", s.Role()),
			tracer.StringAttr("conversation.source", source),
			tracer.IntAttr("context.length", len(task.Context)),
		),
	)
	defer span.End()

	msgs := task.Context
	for i := 0; i < s.deps.MaxIterations; i++ {
		span.AddEvent("specialist.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		resp, err := s.callLLM(ctx, source, msgs)
		if err != nil {
			return s.fail(ctx, span, source, msgs, err)
		}

		calls, isCalls := resp.Content.Calls()
		s.deps.Logger.Debug("llm response",
			"iteration", i,
			"source", source,
			"tool_calls", len(calls),
			"tokens", resp.Usage.TotalTokens,
		)

		if !isCalls {
			text, _ := resp.Content.Text()
			msgs = msgs.Append(domain.AssistantMessage{Content: domain.TextContent(text), Source: s.Role()})
			if err := s.respond(ctx, source, msgs); err != nil {
				tracer.RecordError(span, err)
				return fmt.Errorf("publish response: %w", err)
			}
			tracer.SetOK(span)
			return nil
		}

		batch := s.runBatch(ctx, source, calls)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if batch.err != nil {
			return s.fail(ctx, span, source, msgs, batch.err)
		}

		// Delegation wins: sibling action results are discarded.
		if len(batch.handoffs) > 0 {
			if err := s.delegate(ctx, source, msgs, batch.handoffs); err != nil {
				return s.fail(ctx, span, source, msgs, err)
			}
			tracer.SetOK(span)
			return nil
		}

		msgs = msgs.Append(
			domain.AssistantMessage{Content: domain.CallContent(calls...), Source: s.Role()},
			domain.FunctionResultMessage{Results: batch.results},
		)
	}

	return s.fail(ctx, span, source, msgs,
		domain.NewDomainError("Specialist.Handle", domain.ErrMaxIterations, fmt.Sprintf("%d iterations", s.deps.MaxIterations)))
}

func (s *Specialist) schemas() []domain.ToolSchema {
	var out []domain.ToolSchema
	if s.deps.Actions != nil {
		out = append(out, s.deps.Actions.Schemas()...)
	}
	if s.deps.Delegates != nil {
		out = append(out, s.deps.Delegates.Schemas()...)
	}
	return out
}

func (s *Specialist) callLLM(ctx context.Context, source string, msgs domain.MessageList) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "specialist.llm_call",
		trace.WithAttributes(tracer.StringAttr("llm.provider", s.deps.LLM.Name())),
	)
	defer span.End()

	if s.deps.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.deps.LLM.Chat(ctx, domain.ChatRequest{
		Model:        s.deps.Identity.Model,
		SystemPrompt: s.deps.Identity.SystemPrompt,
		Messages:     msgs,
		Tools:        s.schemas(),
		MaxTokens:    s.deps.MaxTokens,
		Temperature:  s.deps.Temperature,
	})
	payload := domain.AgentEventPayload{Role: s.Role(), Duration: time.Since(start).Milliseconds()}
	if err != nil {
		tracer.RecordError(span, err)
		payload.Error = err.Error()
		payload.Code = string(domain.ErrorCodeOf(err))
		s.emit(ctx, domain.EventLLMCallCompleted, source, payload)
		return nil, err
	}
	tracer.SetOK(span)
	s.emit(ctx, domain.EventLLMCallCompleted, source, payload)
	return resp, nil
}

// plan classifies every call before anything runs.
func (s *Specialist) plan(calls []domain.ToolCall) []plannedCall {
	planned := make([]plannedCall, len(calls))
	for i, call := range calls {
		planned[i] = plannedCall{call: call, outcome: outcomeUnknown}
		if s.deps.Delegates != nil {
			if t, err := s.deps.Delegates.Get(call.Name); err == nil {
				planned[i].tool, planned[i].outcome = t, outcomeDelegate
				continue
			}
		}
		if s.deps.Actions != nil {
			if t, err := s.deps.Actions.Get(call.Name); err == nil {
				planned[i].tool, planned[i].outcome = t, outcomeAction
			}
		}
	}
	return planned
}

func (s *Specialist) runBatch(ctx context.Context, source string, calls []domain.ToolCall) batchResult {
	planned := s.plan(calls)
	// An unknown tool fails the whole batch before anything runs.
	for _, p := range planned {
		if p.outcome == outcomeUnknown {
			return batchResult{err: domain.NewDomainError("Specialist.runBatch", domain.ErrToolNotFound, p.call.Name)}
		}
	}

	// Calls run one after another in the order the model issued them.
	// Action side effects happen even when a sibling delegates.
	var (
		handoffs []handoff
		results  = make([]domain.FunctionResult, 0, len(planned))
		seen     = make(map[string]bool)
	)
	for _, p := range planned {
		res, err := s.execute(ctx, source, p)
		if err != nil {
			return batchResult{err: err}
		}
		if p.outcome == outcomeAction {
			results = append(results, domain.FunctionResult{CallID: p.call.ID, Content: res.Content, Name: p.call.Name})
			continue
		}
		target := res.Content
		if seen[target] {
			continue
		}
		seen[target] = true
		handoffs = append(handoffs, handoff{target: target, call: p.call})
	}
	if len(handoffs) > 0 {
		return batchResult{handoffs: handoffs}
	}
	return batchResult{results: results}
}

// execute runs one tool. An error result is reported as ErrToolFailure.
func (s *Specialist) execute(ctx context.Context, source string, p plannedCall) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "specialist.execute_tool",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", p.call.Name),
			tracer.StringAttr("tool.kind", p.outcome.String()),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := p.tool.Execute(ctx, p.call.Arguments)
	if err == nil && res == nil {
		err = domain.NewDomainError("Specialist.execute", domain.ErrToolFailure, p.call.Name+": empty result")
	}
	if err == nil && res.IsError {
		err = domain.NewDomainError("Specialist.execute", domain.ErrToolFailure, p.call.Name+": "+res.Content)
	}

	payload := domain.AgentEventPayload{Role: s.Role(), Target: p.call.Name, Duration: time.Since(start).Milliseconds()}
	if err != nil {
		tracer.RecordError(span, err)
		payload.Error = err.Error()
		payload.Code = string(domain.ErrorCodeOf(err))
	} else {
		tracer.SetOK(span)
	}
	s.emit(ctx, domain.EventToolCallCompleted, source, payload)
	return res, err
}

func (s *Specialist) delegate(ctx context.Context, source string, msgs domain.MessageList, handoffs []handoff) error {
	for _, h := range handoffs {
		delegated := msgs.Append(
			domain.AssistantMessage{Content: domain.CallContent(h.call), Source: s.Role()},
			domain.FunctionResultMessage{Results: []domain.FunctionResult{{
				CallID:  h.call.ID,
				Content: delegatedText(h.target),
				Name:    h.call.Name,
			}}},
		)
		topic := domain.TopicID{Type: h.target, Source: source}
		if err := s.deps.Publisher.Publish(ctx, domain.Task{Context: delegated}, topic); err != nil {
			return fmt.Errorf("delegate to %s: %w", h.target, err)
		}
		s.deps.Logger.Info("delegated", "source", source, "target", h.target, "tool", h.call.Name)
		s.emit(ctx, domain.EventTaskDelegated, source, domain.AgentEventPayload{Role: s.Role(), Target: h.target})
	}
	return nil
}

func (s *Specialist) respond(ctx context.Context, source string, msgs domain.MessageList) error {
	resp := domain.AgentResponse{Context: msgs, ReplyToTopicType: s.Role()}
	if err := s.deps.Publisher.Publish(ctx, resp, domain.TopicID{Type: domain.User, Source: source}); err != nil {
		return err
	}
	s.emit(ctx, domain.EventResponsePublished, source, domain.AgentEventPayload{Role: s.Role()})
	return nil
}

// fail absorbs err into an apology response. Cancellation is propagated
// instead and nothing is published.
func (s *Specialist) fail(ctx context.Context, span trace.Span, source string, msgs domain.MessageList, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	tracer.RecordError(span, err)
	s.deps.Logger.Warn("handler failed", "source", source, "error", err, "code", string(domain.ErrorCodeOf(err)))
	s.emit(ctx, domain.EventHandlerFailed, source, domain.AgentEventPayload{
		Role:  s.Role(),
		Error: err.Error(),
		Code:  string(domain.ErrorCodeOf(err)),
	})

	msgs = msgs.Append(domain.AssistantMessage{Content: domain.TextContent(ApologyText), Source: s.Role()})
	if perr := s.respond(ctx, source, msgs); perr != nil {
		return fmt.Errorf("publish apology: %w", perr)
	}
	return nil
}

func (s *Specialist) emit(ctx context.Context, typ domain.EventType, source string, payload any) {
	s.deps.Bus.Publish(ctx, domain.NewEvent(typ, source, payload))
}

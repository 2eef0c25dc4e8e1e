package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"supportmesh/internal/adapter/transcript"
	"supportmesh/internal/domain"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
)

// --- Test helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type chatStep func(req domain.ChatRequest) (*domain.ChatResponse, error)

func reply(text string) chatStep {
	return func(domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: domain.TextContent(text)}, nil
	}
}

func callTools(calls ...domain.ToolCall) chatStep {
	return func(domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: domain.CallContent(calls...)}, nil
	}
}

func failWith(err error) chatStep {
	return func(domain.ChatRequest) (*domain.ChatResponse, error) { return nil, err }
}

func call(id, name, args string) domain.ToolCall {
	if args == "" {
		args = "{}"
	}
	return domain.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// scriptedLLM plays back one step per Chat call and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []chatStep
	requests []domain.ChatRequest
}

func newScriptedLLM(steps ...chatStep) *scriptedLLM {
	return &scriptedLLM{steps: steps}
}

func (m *scriptedLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if idx >= len(m.steps) {
		return nil, errors.New("script exhausted")
	}
	return m.steps[idx](req)
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

// blockingLLM waits for cancellation.
type blockingLLM struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingLLM() *blockingLLM { return &blockingLLM{started: make(chan struct{})} }

func (m *blockingLLM) Chat(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	m.once.Do(func() { close(m.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *blockingLLM) Name() string { return "blocking" }

// stubTool returns a fixed result and counts executions.
type stubTool struct {
	name   string
	result *domain.ToolResult
	err    error

	mu    sync.Mutex
	calls int
}

func newStubTool(name, content string) *stubTool {
	return &stubTool{name: name, result: &domain.ToolResult{Content: content}}
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub " + t.name }

func (t *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t *stubTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.result, t.err
}

func (t *stubTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// toolSet is a minimal domain.ToolExecutor.
// orderedTool records the order in which tools run.
type orderedTool struct {
	*stubTool
	mu    *sync.Mutex
	order *[]string
}

func (t *orderedTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	*t.order = append(*t.order, t.name)
	t.mu.Unlock()
	return t.stubTool.Execute(ctx, args)
}

type toolSet map[string]domain.Tool

func tools(ts ...domain.Tool) toolSet {
	s := make(toolSet, len(ts))
	for _, t := range ts {
		s[t.Name()] = t
	}
	return s
}

func delegateTo(name, target string) domain.Tool {
	return newStubTool(name, target)
}

func (s toolSet) Get(name string) (domain.Tool, error) {
	t, ok := s[name]
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return t, nil
}

func (s toolSet) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(s))
	for _, t := range s {
		out = append(out, t.Schema())
	}
	return out
}

// published is one message captured by recordingPublisher.
type published struct {
	payload any
	topic   domain.TopicID
}

// recordingPublisher captures publishes instead of dispatching them.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, payload any, topic domain.TopicID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{payload: payload, topic: topic})
	return nil
}

func (p *recordingPublisher) All() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

// fakeTransport records every frame written to it.
type fakeTransport struct {
	mu     sync.Mutex
	frames []any
	err    error
	closed string
}

func (f *fakeTransport) SendJSON(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeTransport) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = reason
	return nil
}

func (f *fakeTransport) Frames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

func (f *fakeTransport) TextFrames() []domain.TextFrame {
	var out []domain.TextFrame
	for _, fr := range f.Frames() {
		if tf, ok := fr.(domain.TextFrame); ok {
			out = append(out, tf)
		}
	}
	return out
}

func (f *fakeTransport) Assignments() []domain.AssignmentFrame {
	var out []domain.AssignmentFrame
	for _, fr := range f.Frames() {
		if af, ok := fr.(domain.AssignmentFrame); ok {
			out = append(out, af)
		}
	}
	return out
}

// recordingBus captures events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) Count(typ domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newConnections() *connection.Registry {
	return connection.NewRegistry(transcript.NewMemoryStore(0), discardLogger())
}

func connectCustomer(t *testing.T, reg *connection.Registry, id string) *fakeTransport {
	t.Helper()
	tr := &fakeTransport{}
	require.NoError(t, reg.ConnectCustomer(id, tr))
	return tr
}

func connectOperator(t *testing.T, reg *connection.Registry, id string) *fakeTransport {
	t.Helper()
	tr := &fakeTransport{}
	require.NoError(t, reg.ConnectOperator(id, tr))
	return tr
}

func topic(role, source string) actor.MessageContext {
	return actor.MessageContext{Topic: domain.TopicID{Type: role, Source: source}, MessageID: "m1"}
}

func lastText(t *testing.T, msgs domain.MessageList) (string, string) {
	t.Helper()
	am, ok := msgs.LatestAssistant()
	require.True(t, ok, "no assistant message")
	text, isText := am.Content.Text()
	require.True(t, isText, "latest assistant message is a call batch")
	return text, am.Source
}

func waitIdle(t *testing.T, rt *actor.Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.WaitIdle(ctx))
}

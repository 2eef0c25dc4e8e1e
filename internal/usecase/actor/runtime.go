// Package actor implements the topic-addressed actor runtime that carries
// conversations between specialists, the human proxy and the session actor.
//
// Every (role, source) topic owns a mailbox. Messages published to the same
// topic are handled one at a time in publish order; different topics run
// concurrently. A fresh actor is built from the role's factory for every
// dispatch, so all conversation state travels in the payload.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/tracer"
	"supportmesh/internal/usecase/eventbus"
)

// MessageContext describes the delivery being handled.
type MessageContext struct {
	Topic     domain.TopicID
	MessageID string
}

// Actor handles one message. Returning ctx.Err() signals cancellation; any
// other error is logged and reported as EventDispatchFailed.
type Actor interface {
	Handle(ctx context.Context, mc MessageContext, payload any) error
}

// ActorFunc adapts a function to Actor.
type ActorFunc func(ctx context.Context, mc MessageContext, payload any) error

// Handle implements Actor.
func (f ActorFunc) Handle(ctx context.Context, mc MessageContext, payload any) error {
	return f(ctx, mc, payload)
}

// Factory builds a new actor instance for a single dispatch.
type Factory func() Actor

// Publisher is the part of the runtime actors depend on.
type Publisher interface {
	Publish(ctx context.Context, payload any, topic domain.TopicID) error
}

type envelope struct {
	origin  context.Context // publisher context, used only for trace links
	id      string
	payload any
	scope   *sourceScope
}

type mailbox struct {
	topic     domain.TopicID
	actorType string
	queue     []envelope
}

type sourceScope struct {
	ctx    context.Context
	cancel context.CancelFunc
	active int // envelopes of this source queued or being handled
}

// Runtime is the in-process actor runtime.
type Runtime struct {
	mu        sync.Mutex
	factories map[string]Factory
	subs      map[string]string // topic type -> actor type
	mailboxes map[domain.TopicID]*mailbox
	sources   map[string]*sourceScope
	pending   int
	idle      chan struct{}
	closed    bool

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	bus    domain.EventBus
	logger *slog.Logger
}

// New creates a runtime. bus may be nil.
func New(bus domain.EventBus, logger *slog.Logger) *Runtime {
	if bus == nil {
		bus = eventbus.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Runtime{
		factories: make(map[string]Factory),
		subs:      make(map[string]string),
		mailboxes: make(map[domain.TopicID]*mailbox),
		sources:   make(map[string]*sourceScope),
		idle:      idle,
		root:      root,
		cancel:    cancel,
		bus:       bus,
		logger:    logger.With("component", "actor_runtime"),
	}
}

// RegisterActorType registers the factory used to build actors of actorType.
func (r *Runtime) RegisterActorType(actorType string, factory Factory) error {
	if actorType == "" || factory == nil {
		return domain.NewDomainError("Runtime.RegisterActorType", domain.ErrInvalidInput, "actor type and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[actorType]; exists {
		return domain.NewSubSystemError("actor", "Runtime.RegisterActorType", domain.ErrDuplicate, actorType)
	}
	r.factories[actorType] = factory
	return nil
}

// AddSubscription routes every topic of topicType to actorType. A topic type
// has at most one subscriber.
func (r *Runtime) AddSubscription(topicType, actorType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[actorType]; !ok {
		return domain.NewDomainError("Runtime.AddSubscription", domain.ErrUnknownActor, actorType)
	}
	if current, ok := r.subs[topicType]; ok && current != actorType {
		return domain.NewSubSystemError("actor", "Runtime.AddSubscription", domain.ErrDuplicate,
			fmt.Sprintf("topic %s already routed to %s", topicType, current))
	}
	r.subs[topicType] = actorType
	return nil
}

// Subscriptions returns topic type -> actor type pairs sorted by topic type.
func (r *Runtime) Subscriptions() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]string, 0, len(r.subs))
	for topic, actorType := range r.subs {
		out = append(out, [2]string{topic, actorType})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Publish enqueues payload for topic and returns without waiting for the
// handler. Task and AgentResponse payloads are deep-copied, so the caller may
// keep using its own context afterwards.
func (r *Runtime) Publish(ctx context.Context, payload any, topic domain.TopicID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.NewDomainError("Runtime.Publish", domain.ErrRuntimeClosed, topic.String())
	}
	actorType, ok := r.subs[topic.Type]
	if !ok {
		return domain.NewDomainError("Runtime.Publish", domain.ErrNoSubscriber, topic.String())
	}

	scope := r.scopeLocked(topic.Source)
	scope.active++
	env := envelope{origin: ctx, id: ulid.Make().String(), payload: ownPayload(payload), scope: scope}

	mb, running := r.mailboxes[topic]
	if !running {
		mb = &mailbox{topic: topic, actorType: actorType}
		r.mailboxes[topic] = mb
	}
	mb.queue = append(mb.queue, env)

	if r.pending == 0 {
		r.idle = make(chan struct{})
	}
	r.pending++

	if !running {
		r.wg.Add(1)
		go r.drain(mb)
	}
	return nil
}

func ownPayload(payload any) any {
	switch p := payload.(type) {
	case domain.Task:
		return domain.Task{Context: p.Context.Clone()}
	case *domain.Task:
		return domain.Task{Context: p.Context.Clone()}
	case domain.AgentResponse:
		return domain.AgentResponse{Context: p.Context.Clone(), ReplyToTopicType: p.ReplyToTopicType}
	case *domain.AgentResponse:
		return domain.AgentResponse{Context: p.Context.Clone(), ReplyToTopicType: p.ReplyToTopicType}
	default:
		return payload
	}
}

func (r *Runtime) scopeLocked(source string) *sourceScope {
	if s, ok := r.sources[source]; ok {
		return s
	}
	ctx, cancel := context.WithCancel(r.root)
	s := &sourceScope{ctx: ctx, cancel: cancel}
	r.sources[source] = s
	return s
}

// drain delivers queued envelopes for one topic until the queue is empty.
// Exactly one drain runs per mailbox; each envelope runs under the scope of
// the source it was published for.
func (r *Runtime) drain(mb *mailbox) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(mb.queue) == 0 {
			delete(r.mailboxes, mb.topic)
			r.mu.Unlock()
			return
		}
		env := mb.queue[0]
		mb.queue[0] = envelope{}
		mb.queue = mb.queue[1:]
		factory := r.factories[mb.actorType]
		r.mu.Unlock()

		r.dispatch(env.scope.ctx, mb, factory, env)

		r.mu.Lock()
		r.releaseLocked(mb.topic.Source, env.scope)
		r.doneLocked(1)
		r.mu.Unlock()
	}
}

// releaseLocked retires scope once nothing of its source is outstanding.
func (r *Runtime) releaseLocked(source string, scope *sourceScope) {
	scope.active--
	if scope.active == 0 && r.sources[source] == scope {
		scope.cancel()
		delete(r.sources, source)
	}
}

func (r *Runtime) doneLocked(n int) {
	r.pending -= n
	if r.pending == 0 {
		close(r.idle)
	}
}

func (r *Runtime) dispatch(ctx context.Context, mb *mailbox, factory Factory, env envelope) {
	logger := r.logger.With("topic", mb.topic.String(), "actor", mb.actorType, "message_id", env.id)

	if ctx.Err() != nil {
		logger.Debug("dispatch skipped, source cancelled")
		return
	}

	ctx, span := tracer.StartLinkedSpan(ctx, env.origin, "actor.dispatch",
		tracer.StringAttr("actor.type", mb.actorType),
		tracer.StringAttr("topic.type", mb.topic.Type),
		tracer.StringAttr("topic.source", mb.topic.Source),
		tracer.StringAttr("message.id", env.id),
		tracer.StringAttr("message.kind", fmt.Sprintf("%T", env.payload)),
	)
	defer span.End()

	err := r.invoke(ctx, factory, MessageContext{Topic: mb.topic, MessageID: env.id}, env.payload)
	switch {
	case err == nil:
		tracer.SetOK(span)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		logger.Debug("dispatch cancelled")
	default:
		tracer.RecordError(span, err)
		logger.Error("dispatch failed", "error", err, "code", string(domain.ErrorCodeOf(err)))
		r.bus.Publish(ctx, domain.NewEvent(domain.EventDispatchFailed, mb.topic.Source, domain.AgentEventPayload{
			Role:  mb.topic.Type,
			Error: err.Error(),
			Code:  string(domain.ErrorCodeOf(err)),
		}))
	}
}

func (r *Runtime) invoke(ctx context.Context, factory Factory, mc MessageContext, payload any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("actor panicked: %v", rec)
		}
	}()
	return factory().Handle(ctx, mc, payload)
}

// CancelSource aborts in-flight dispatches for a conversation and drops its
// queued messages. Later publishes for the source are accepted again and
// queue behind any handler still unwinding on the same topic.
func (r *Runtime) CancelSource(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scope, ok := r.sources[source]
	if !ok {
		return
	}
	scope.cancel()
	delete(r.sources, source)

	dropped := 0
	for topic, mb := range r.mailboxes {
		if topic.Source != source {
			continue
		}
		// The mailbox stays registered while its drain is still running.
		dropped += len(mb.queue)
		mb.queue = nil
	}
	scope.active -= dropped
	if dropped > 0 {
		r.doneLocked(dropped)
		r.logger.Debug("dropped queued messages", "source", source, "count", dropped)
	}
}

// Pending returns the number of messages queued or being handled.
func (r *Runtime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// WaitIdle blocks until no message is queued or being handled, including
// messages published by handlers while waiting.
func (r *Runtime) WaitIdle(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.pending == 0 {
			r.mu.Unlock()
			return nil
		}
		idle := r.idle
		r.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close waits for the runtime to go idle, then refuses further publishes.
// If ctx expires first, in-flight dispatches are cancelled.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.WaitIdle(ctx)

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return err
}

// Package eventbus fans lifecycle events (connections, delegations,
// escalations, transfers) out to observers such as the metrics collector.
// It is not the conversation transport; see package actor for that.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"supportmesh/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger.With("component", "eventbus"),
	}
}

// Publish fans out an event to matching typed subscribers and all-event subscribers.
// Each handler runs in its own goroutine with a context detached from the
// publisher's cancellation, so a closing conversation still gets observed.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	typed := make([]subscription, len(b.typed[event.Type]))
	copy(typed, b.typed[event.Type])
	allSubs := make([]subscription, len(b.allSubs))
	copy(allSubs, b.allSubs)
	b.mu.RUnlock()

	if len(typed)+len(allSubs) == 0 {
		return
	}
	hctx := context.WithoutCancel(ctx)
	for _, sub := range typed {
		b.dispatch(hctx, event, sub)
	}
	for _, sub := range allSubs {
		b.dispatch(hctx, event, sub)
	}
}

// Emit builds an event with domain.NewEvent and publishes it.
func (b *Bus) Emit(ctx context.Context, typ domain.EventType, sessionID string, payload any) {
	b.Publish(ctx, domain.NewEvent(typ, sessionID, payload))
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"session_id", event.SessionID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = removeSub(b.typed[eventType], id)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = removeSub(b.allSubs, id)
	}
}

func removeSub(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}

// Drain waits for in-flight handlers without closing the bus.
func (b *Bus) Drain() {
	b.wg.Wait()
}

// Close prevents new publishes and waits for all in-flight handlers to finish.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

// Noop is an EventBus that discards everything. Components fall back to it
// when no bus is wired.
type Noop struct{}

func (Noop) Publish(context.Context, domain.Event)                  {}
func (Noop) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (Noop) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (Noop) Close()                                                 {}

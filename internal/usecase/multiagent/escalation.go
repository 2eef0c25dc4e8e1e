package multiagent

import (
	"context"
	"log/slog"
	"time"

	"supportmesh/internal/domain"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
	"supportmesh/internal/usecase/eventbus"
)

// EscalationQueueDeps holds the dependencies of the escalation queue.
type EscalationQueueDeps struct {
	Connections    *connection.Registry
	Publisher      actor.Publisher
	Bus            domain.EventBus // optional
	Logger         *slog.Logger
	PendingTimeout time.Duration // 0 = never expire
	SweepInterval  time.Duration
}

// EscalationQueue hands parked escalations to operators as they free up and
// falls back to self-service for escalations that waited too long.
type EscalationQueue struct {
	deps EscalationQueueDeps
	kick chan struct{}
}

// NewEscalationQueue creates an escalation queue worker.
func NewEscalationQueue(deps EscalationQueueDeps) *EscalationQueue {
	if deps.Bus == nil {
		deps.Bus = eventbus.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SweepInterval <= 0 {
		deps.SweepInterval = 5 * time.Second
	}
	deps.Logger = deps.Logger.With("component", "escalation_queue")
	return &EscalationQueue{deps: deps, kick: make(chan struct{}, 1)}
}

// Kick requests a sweep without waiting for the next tick. It never blocks.
func (q *EscalationQueue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Run sweeps on every tick and kick until ctx is cancelled.
func (q *EscalationQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.deps.SweepInterval)
	defer ticker.Stop()

	q.deps.Logger.Info("escalation queue started", "interval", q.deps.SweepInterval, "pending_timeout", q.deps.PendingTimeout)
	for {
		select {
		case <-ctx.Done():
			q.deps.Logger.Info("escalation queue stopped")
			return nil
		case <-ticker.C:
		case <-q.kick:
		}
		q.Sweep(ctx)
	}
}

// Sweep expires stale escalations, then re-publishes the oldest waiting
// ones to the HumanAgent topic, at most one per available operator.
func (q *EscalationQueue) Sweep(ctx context.Context) {
	if q.deps.PendingTimeout > 0 {
		for _, p := range q.deps.Connections.ExpirePending(q.deps.PendingTimeout) {
			q.deps.Logger.Info("escalation expired", "customer_id", p.CustomerID, "waited", time.Since(p.Since).Round(time.Second))
			q.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventEscalationExpired, p.CustomerID, domain.OperatorEventPayload{
				Reason: "pending timeout",
			}))
			if err := publishNoAgents(ctx, q.deps.Publisher, p.CustomerID, p.Task.Context); err != nil {
				q.deps.Logger.Warn("failed to publish expiry fallback", "customer_id", p.CustomerID, "error", err)
			}
		}
	}

	free := len(q.deps.Connections.AvailableOperators())
	for free > 0 {
		next, ok := q.deps.Connections.NextPending()
		if !ok {
			return
		}
		task, ok := q.deps.Connections.TakePending(next.CustomerID)
		if !ok {
			continue
		}
		topic := domain.TopicID{Type: domain.HumanAgent, Source: next.CustomerID}
		if err := q.deps.Publisher.Publish(ctx, task, topic); err != nil {
			q.deps.Logger.Warn("failed to resubmit escalation", "customer_id", next.CustomerID, "error", err)
			continue
		}
		q.deps.Logger.Debug("escalation resubmitted", "customer_id", next.CustomerID)
		free--
	}
}

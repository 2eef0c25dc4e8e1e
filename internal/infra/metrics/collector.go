// Package metrics exposes Prometheus collectors fed from the domain event
// bus, plus gauges sampled from the connection pool on every scrape.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"supportmesh/internal/domain"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "supportmesh"

// PoolStats is a point-in-time view of connected parties.
type PoolStats struct {
	Customers          int
	ConnectedOperators int
	AvailableOperators int
	Bindings           int
	Pending            int
}

// Collector owns a private registry so tests and embedded servers never
// collide on the global one.
type Collector struct {
	registry  *prometheus.Registry
	namespace string

	events          *prometheus.CounterVec
	customerMsgs    prometheus.Counter
	operatorMsgs    prometheus.Counter
	llmCalls        *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	delegations     *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	deliveries      *prometheus.CounterVec

	logger *slog.Logger
}

// NewCollector creates a collector under namespace. An empty namespace uses
// DefaultNamespace.
func NewCollector(namespace string, logger *slog.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{
		registry:  reg,
		namespace: namespace,
		logger:    logger.With("component", "metrics"),
	}

	c.events = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Domain events observed, by type.",
	}, []string{"type"})

	c.customerMsgs = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "customer_messages_total",
		Help:      "Inbound customer messages.",
	})
	c.operatorMsgs = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operator_messages_total",
		Help:      "Operator replies sent to customers.",
	})

	c.llmCalls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_calls_total",
		Help:      "Inference calls by specialist role and status.",
	}, []string{"role", "status"})
	c.llmDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_call_duration_seconds",
		Help:      "Inference call latency.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"role"})

	c.toolCalls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Action tool executions by tool and status.",
	}, []string{"tool", "status"})
	c.toolDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Action tool latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	c.delegations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delegations_total",
		Help:      "Handoffs between roles.",
	}, []string{"from", "to"})

	c.handlerFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_failures_total",
		Help:      "Specialist failures answered with an apology, and runtime dispatch failures.",
	}, []string{"stage", "role", "code"})

	c.escalations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Escalations to a human, by outcome.",
	}, []string{"outcome"})

	c.transfers = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_to_ai_total",
		Help:      "Operator hand-backs to an AI role.",
	}, []string{"target", "status"})

	c.deliveries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "responses_total",
		Help:      "Finished turns forwarded to customers, by outcome.",
	}, []string{"outcome"})

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// TrackPool registers gauges that sample stats on every scrape.
func (c *Collector) TrackPool(stats func() PoolStats) {
	f := promauto.With(c.registry)
	gauge := func(name, help string, pick func(PoolStats) int) {
		f.NewGaugeFunc(prometheus.GaugeOpts{Namespace: c.namespace, Name: name, Help: help},
			func() float64 { return float64(pick(stats())) })
	}
	gauge("customers_connected", "Connected customers.", func(s PoolStats) int { return s.Customers })
	gauge("operators_connected", "Connected operators.", func(s PoolStats) int { return s.ConnectedOperators })
	gauge("operators_available", "Connected operators without a customer.", func(s PoolStats) int { return s.AvailableOperators })
	gauge("assignments_active", "Customers bound to an operator.", func(s PoolStats) int { return s.Bindings })
	gauge("escalations_pending", "Escalations waiting for an operator.", func(s PoolStats) int { return s.Pending })
}

// Subscribe feeds every bus event into the collector. The returned func
// unsubscribes.
func (c *Collector) Subscribe(bus domain.EventBus) func() {
	return bus.SubscribeAll(c.Observe)
}

// Observe records one event.
func (c *Collector) Observe(_ context.Context, ev domain.Event) {
	c.events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case domain.EventCustomerMessage:
		c.customerMsgs.Inc()
	case domain.EventOperatorMessage:
		c.operatorMsgs.Inc()

	case domain.EventLLMCallCompleted:
		p, ok := c.agentPayload(ev)
		if !ok {
			return
		}
		c.llmCalls.WithLabelValues(p.Role, status(p)).Inc()
		c.llmDuration.WithLabelValues(p.Role).Observe(seconds(p.Duration))
	case domain.EventToolCallCompleted:
		p, ok := c.agentPayload(ev)
		if !ok {
			return
		}
		c.toolCalls.WithLabelValues(p.Target, status(p)).Inc()
		c.toolDuration.WithLabelValues(p.Target).Observe(seconds(p.Duration))
	case domain.EventTaskDelegated:
		if p, ok := c.agentPayload(ev); ok {
			c.delegations.WithLabelValues(p.Role, p.Target).Inc()
		}
	case domain.EventHandlerFailed:
		if p, ok := c.agentPayload(ev); ok {
			c.handlerFailures.WithLabelValues("specialist", p.Role, code(p)).Inc()
		}
	case domain.EventDispatchFailed:
		if p, ok := c.agentPayload(ev); ok {
			c.handlerFailures.WithLabelValues("dispatch", p.Role, code(p)).Inc()
		}

	case domain.EventEscalationAssigned:
		c.escalations.WithLabelValues("assigned").Inc()
	case domain.EventEscalationQueued:
		c.escalations.WithLabelValues("queued").Inc()
	case domain.EventEscalationDegraded:
		c.escalations.WithLabelValues("degraded").Inc()
	case domain.EventEscalationExpired:
		c.escalations.WithLabelValues("expired").Inc()

	case domain.EventTransferredToAI:
		if p, ok := c.operatorPayload(ev); ok {
			c.transfers.WithLabelValues(p.Target, "ok").Inc()
		}
	case domain.EventTransferFailed:
		if p, ok := c.operatorPayload(ev); ok {
			c.transfers.WithLabelValues(p.Target, "error").Inc()
		}

	case domain.EventResponseDelivered:
		c.deliveries.WithLabelValues("delivered").Inc()
	case domain.EventResponseDropped:
		c.deliveries.WithLabelValues("dropped").Inc()
	}
}

func (c *Collector) agentPayload(ev domain.Event) (domain.AgentEventPayload, bool) {
	var p domain.AgentEventPayload
	if len(ev.Payload) == 0 {
		return p, true
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		c.logger.Debug("undecodable event payload", "type", ev.Type, "error", err)
		return p, false
	}
	return p, true
}

func (c *Collector) operatorPayload(ev domain.Event) (domain.OperatorEventPayload, bool) {
	var p domain.OperatorEventPayload
	if len(ev.Payload) == 0 {
		return p, true
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		c.logger.Debug("undecodable event payload", "type", ev.Type, "error", err)
		return p, false
	}
	return p, true
}

func status(p domain.AgentEventPayload) string {
	if p.Error == "" {
		return "ok"
	}
	return code(p)
}

func code(p domain.AgentEventPayload) string {
	if p.Code == "" {
		return string(domain.CodeUnknown)
	}
	return p.Code
}

func seconds(ms int64) float64 { return float64(ms) / 1000 }

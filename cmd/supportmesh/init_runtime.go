package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"supportmesh/internal/adapter/gateway"
	"supportmesh/internal/adapter/tool"
	"supportmesh/internal/adapter/transcript"
	"supportmesh/internal/domain"
	"supportmesh/internal/infra/config"
	"supportmesh/internal/infra/metrics"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
	"supportmesh/internal/usecase/eventbus"
	"supportmesh/internal/usecase/multiagent"
)

// App holds the wired runtime. Queue and Metrics are nil when disabled.
type App struct {
	Bus         *eventbus.Bus
	Runtime     *actor.Runtime
	Connections *connection.Registry
	Personas    *multiagent.Registry
	Router      *multiagent.Router
	Broker      *multiagent.Broker
	Queue       *multiagent.EscalationQueue
	Metrics     *metrics.Collector
	Gateway     *gateway.Server

	closers []func(context.Context) error
}

// Close stops the runtime and releases backing stores, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []string
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// buildApp wires every actor, collaborator and the gateway from cfg.
func buildApp(cfg *config.Config, llms *LLMComponents, log *slog.Logger) (*App, error) {
	app := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.Background())
		}
	}()

	// 1. Event bus and metrics.
	app.Bus = eventbus.New(log)
	app.closers = append(app.closers, func(context.Context) error { app.Bus.Close(); return nil })
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(metrics.DefaultNamespace, log)
		unsub := app.Metrics.Subscribe(app.Bus)
		app.closers = append(app.closers, func(context.Context) error { unsub(); return nil })
	}

	// 2. Conversation log and connection registry.
	store, closeStore, err := initTranscripts(cfg.Transcript)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) error { return closeStore() })
	app.Connections = connection.NewRegistry(store, log)
	if app.Metrics != nil {
		app.Metrics.TrackPool(func() metrics.PoolStats {
			s := app.Connections.Snapshot()
			return metrics.PoolStats{
				Customers:          len(s.Customers),
				ConnectedOperators: len(s.ConnectedOperators),
				AvailableOperators: len(s.AvailableOperators),
				Bindings:           len(s.Bindings),
				Pending:            len(s.PendingCustomers),
			}
		})
	}

	// 3. Actor runtime.
	app.Runtime = actor.New(app.Bus, log)
	app.closers = append(app.closers, app.Runtime.Close)

	// 4. Personas.
	personas, err := initPersonas(cfg, log)
	if err != nil {
		return nil, err
	}
	app.Personas = personas

	// 5. Specialists, one actor type per AI role.
	if err := registerSpecialists(app, cfg, llms, log); err != nil {
		return nil, err
	}

	// 6. Human proxy and session actors.
	if cfg.Escalation.QueueWhenBusy {
		app.Queue = multiagent.NewEscalationQueue(multiagent.EscalationQueueDeps{
			Connections:    app.Connections,
			Publisher:      app.Runtime,
			Bus:            app.Bus,
			Logger:         log,
			PendingTimeout: cfg.Escalation.PendingTimeout,
			SweepInterval:  cfg.Escalation.SweepInterval,
		})
	}
	proxy := multiagent.NewHumanProxy(multiagent.HumanProxyDeps{
		Connections:     app.Connections,
		Publisher:       app.Runtime,
		Bus:             app.Bus,
		Logger:          log,
		QueueWhenBusy:   cfg.Escalation.QueueWhenBusy,
		DeliveryTimeout: cfg.Escalation.DeliveryTimeout,
	})
	if err := register(app.Runtime, domain.HumanAgent, proxy.Factory()); err != nil {
		return nil, err
	}
	session := multiagent.NewSessionAgent(multiagent.SessionDeps{
		Connections:  app.Connections,
		Bus:          app.Bus,
		Logger:       log,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	if err := register(app.Runtime, domain.User, session.Factory()); err != nil {
		return nil, err
	}

	// 7. Inbound routing and hand-back.
	app.Router = multiagent.NewRouter(multiagent.RouterDeps{
		Connections:  app.Connections,
		Publisher:    app.Runtime,
		Bus:          app.Bus,
		Logger:       log,
		Sticky:       cfg.Routing.Sticky,
		Lookback:     cfg.Agents.Lookback,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	app.Broker = multiagent.NewBroker(multiagent.BrokerDeps{
		Connections:  app.Connections,
		Publisher:    app.Runtime,
		Queue:        app.Queue,
		Bus:          app.Bus,
		Logger:       log,
		Lookback:     cfg.Agents.Lookback,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	// 8. Gateway.
	app.Gateway = gateway.NewServer(gateway.Deps{
		Runtime:     app.Runtime,
		Connections: app.Connections,
		Router:      app.Router,
		Broker:      app.Broker,
		Personas:    app.Personas,
		Queue:       app.Queue,
		Metrics:     app.Metrics,
		Bus:         app.Bus,
		Auth:        initOperatorAuth(cfg.OperatorAuth),
		Logger:      log,
	}, gateway.Options{
		Addr:             cfg.Server.Addr,
		StaticDir:        cfg.Server.StaticDir,
		WriteTimeout:     cfg.Server.WriteTimeout,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		ReadLimit:        cfg.Server.ReadLimit,
		CustomerRate:     cfg.Customer.RatePerSecond,
		CustomerBurst:    cfg.Customer.Burst,
		MaxMessageBytes:  cfg.Customer.MaxMessageBytes,
		APIRatePerMinute: cfg.Server.APIRatePerMinute,
		APIBurst:         cfg.Server.APIBurst,
		TrustedProxies:   cfg.Server.TrustedProxies,
		MetricsPath:      cfg.Metrics.Path,
	})

	log.Info("runtime wired",
		"personas", app.Personas.IDs(),
		"subscriptions", len(app.Runtime.Subscriptions()),
		"transcript_backend", cfg.Transcript.Backend,
		"queue_when_busy", cfg.Escalation.QueueWhenBusy,
	)
	ok = true
	return app, nil
}

func registerSpecialists(app *App, cfg *config.Config, llms *LLMComponents, log *slog.Logger) error {
	actions, delegates, err := tool.NewCatalogs(log)
	if err != nil {
		return fmt.Errorf("tool catalogs: %w", err)
	}
	for _, id := range app.Personas.IDs() {
		if !domain.IsAIRole(id) {
			continue
		}
		identity, err := app.Personas.Get(id)
		if err != nil {
			return err
		}
		provider, err := llms.providerFor(identity)
		if err != nil {
			return err
		}
		scopedActions, err := actions.Scope(identity.Tools...)
		if err != nil {
			return fmt.Errorf("persona %s tools: %w", id, err)
		}
		scopedDelegates, err := delegates.Scope(identity.Delegates...)
		if err != nil {
			return fmt.Errorf("persona %s delegates: %w", id, err)
		}

		spec := multiagent.NewSpecialist(multiagent.SpecialistDeps{
			Identity:      identity,
			LLM:           provider,
			Actions:       scopedActions,
			Delegates:     scopedDelegates,
			Publisher:     app.Runtime,
			Bus:           app.Bus,
			Logger:        log,
			MaxIterations: cfg.Agents.MaxIterations,
			CallTimeout:   cfg.LLM.CallTimeout,
			MaxTokens:     cfg.LLM.MaxTokens,
			Temperature:   cfg.LLM.Temperature,
		})
		if err := register(app.Runtime, id, spec.Factory()); err != nil {
			return err
		}
	}
	return nil
}

// register adds an actor type and subscribes it to the topic of the same name.
func register(rt *actor.Runtime, role string, f actor.Factory) error {
	if err := rt.RegisterActorType(role, f); err != nil {
		return fmt.Errorf("register %s: %w", role, err)
	}
	if err := rt.AddSubscription(role, role); err != nil {
		return fmt.Errorf("subscribe %s: %w", role, err)
	}
	return nil
}

// initTranscripts opens the configured conversation log backend.
func initTranscripts(cfg config.TranscriptConfig) (domain.TranscriptStore, func() error, error) {
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("transcript redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return transcript.NewRedisStore(client, cfg.TTL, cfg.MaxTurns), client.Close, nil
	case "memory", "":
		return transcript.NewMemoryStore(cfg.MaxTurns), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transcript backend %q", cfg.Backend)
	}
}

func initOperatorAuth(cfg config.OperatorAuthConfig) gateway.Authenticator {
	if cfg.Type != "static" {
		return nil
	}
	entries := make([]gateway.TokenEntry, len(cfg.Tokens))
	for i, t := range cfg.Tokens {
		entries[i] = gateway.TokenEntry{Token: t.Token, Name: t.Name}
	}
	return gateway.NewStaticTokenAuth(entries)
}

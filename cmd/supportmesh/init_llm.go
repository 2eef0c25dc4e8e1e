package main

import (
	"fmt"
	"log/slog"

	"supportmesh/internal/adapter/llm"
	"supportmesh/internal/domain"
	"supportmesh/internal/infra/config"
	"supportmesh/internal/usecase/multiagent"
)

// LLMComponents holds the provider registry and the default provider.
type LLMComponents struct {
	Registry   *llm.Registry
	DefaultLLM domain.LLMProvider
}

// initLLM builds every configured provider. Circuit breakers and failover
// are applied by the registry according to cfg.
func initLLM(cfg config.LLMConfig, log *slog.Logger) (*LLMComponents, error) {
	registry, err := llm.NewFromConfig(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("llm providers: %w", err)
	}
	defaultLLM, err := registry.Default()
	if err != nil {
		return nil, fmt.Errorf("default llm provider: %w", err)
	}

	if cfg.CircuitBreaker.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cfg.CircuitBreaker.MaxFailures,
			"timeout", cfg.CircuitBreaker.Timeout,
			"interval", cfg.CircuitBreaker.Interval,
		)
	}
	if len(cfg.Fallbacks) > 0 {
		log.Info("model failover enabled", "fallbacks", cfg.Fallbacks)
	}

	return &LLMComponents{Registry: registry, DefaultLLM: defaultLLM}, nil
}

// providerFor returns the provider a persona asked for, or the default.
func (c *LLMComponents) providerFor(identity domain.AgentIdentity) (domain.LLMProvider, error) {
	if identity.Provider == "" {
		return c.DefaultLLM, nil
	}
	p, err := c.Registry.Get(identity.Provider)
	if err != nil {
		return nil, fmt.Errorf("persona %s: %w", identity.ID, err)
	}
	return p, nil
}

// ollamaModels maps every Ollama provider to the models it must serve: its
// own default (it may be a failover target) plus the model of each persona
// routed to it. An empty entry stands for the provider's default model.
func (c *LLMComponents) ollamaModels(personas *multiagent.Registry, defaultProvider string) map[string][]string {
	out := make(map[string][]string)
	for name := range c.Registry.Ollama() {
		out[name] = []string{""}
	}
	for _, id := range personas.IDs() {
		if !domain.IsAIRole(id) {
			continue
		}
		identity, err := personas.Get(id)
		if err != nil {
			continue
		}
		provider := identity.Provider
		if provider == "" {
			provider = defaultProvider
		}
		if _, ok := out[provider]; ok && identity.Model != "" {
			out[provider] = append(out[provider], identity.Model)
		}
	}
	return out
}

// initPersonas builds the persona registry with configured overrides applied.
func initPersonas(cfg *config.Config, log *slog.Logger) (*multiagent.Registry, error) {
	personas := multiagent.NewDefaultRegistry(log)
	for _, o := range cfg.Agents.Personas {
		if err := personas.Apply(multiagent.Override{
			ID:           o.ID,
			SystemPrompt: o.SystemPrompt,
			Model:        o.Model,
			Provider:     o.Provider,
			MaxIter:      o.MaxIter,
		}); err != nil {
			return nil, fmt.Errorf("persona override %s: %w", o.ID, err)
		}
	}
	return personas, nil
}

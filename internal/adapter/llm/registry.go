package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]domain.LLMProvider
	defaultName string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// NewFromConfig builds every configured provider, wrapping each in a circuit
// breaker when enabled. The default provider is wrapped in a FailoverProvider
// when fallbacks are configured.
func NewFromConfig(cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		var p domain.LLMProvider
		switch pc.Type {
		case "openai":
			p = NewOpenAIProvider(pc, logger)
		case "ollama":
			p = NewOllamaProvider(pc, logger)
		default:
			return nil, domain.NewDomainError("llm.NewFromConfig", domain.ErrInvalidInput,
				fmt.Sprintf("provider %q has unknown type %q", pc.Name, pc.Type))
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	if err := reg.SetDefault(cfg.DefaultProvider, cfg.Fallbacks, logger); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, name)
	}
	r.providers[name] = provider
	return nil
}

// SetDefault selects the provider returned by Default.
func (r *Registry) SetDefault(name string, fallbacks []string, logger *slog.Logger) error {
	primary, err := r.Get(name)
	if err != nil {
		return err
	}
	if len(fallbacks) > 0 {
		fbs := make([]domain.LLMProvider, 0, len(fallbacks))
		for _, fb := range fallbacks {
			p, err := r.Get(fb)
			if err != nil {
				return err
			}
			fbs = append(fbs, p)
		}
		primary = NewFailoverProvider(primary, fbs, logger)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[primary.Name()] = primary
	r.defaultName = primary.Name()
	return nil
}

// Default returns the provider personas use unless they name another.
func (r *Registry) Default() (domain.LLMProvider, error) {
	r.mu.RLock()
	name := r.defaultName
	r.mu.RUnlock()
	if name == "" {
		return nil, domain.NewDomainError("Registry.Default", domain.ErrProviderNotFound, "no default provider")
	}
	return r.Get(name)
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// Ollama returns the Ollama-backed providers keyed by registered name, looking
// through circuit breakers. Startup warmup and the check command inspect
// their model inventory.
func (r *Registry) Ollama() map[string]*OllamaProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*OllamaProvider)
	for name, p := range r.providers {
		if cb, ok := p.(*CircuitBreakerProvider); ok {
			p = cb.inner
		}
		if op, ok := p.(*OllamaProvider); ok {
			out[name] = op
		}
	}
	return out
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/config"
)

var _ domain.LLMProvider = (*OllamaProvider)(nil)

const (
	ollamaDefaultBaseURL     = "http://localhost:11434"
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second // covers loading a cold model
	ollamaKeepAlive          = "5m"
)

// OllamaProvider serves personas from a self-hosted Ollama server. Chat uses
// the OpenAI-compatible /v1 endpoint; the model inventory and warmup use the
// native API.
type OllamaProvider struct {
	chat    *OpenAIProvider
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// ModelInventory compares the models personas need with what the server has
// pulled.
type ModelInventory struct {
	Provider  string
	Available []string
	Missing   []string
}

// Ready reports whether every required model is pulled.
func (inv ModelInventory) Ready() bool { return len(inv.Missing) == 0 }

// NewOllamaProvider creates an Ollama-backed provider.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = ollamaDefaultConnTimeout
	}
	if cfg.RespTimeout == 0 {
		cfg.RespTimeout = ollamaDefaultRespTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	client := NewHTTPClient(cfg)
	return &OllamaProvider{
		chat:    &OpenAIProvider{name: cfg.Name, model: cfg.Model, baseURL: baseURL + "/v1", client: client, logger: logger},
		baseURL: baseURL,
		client:  client,
		logger:  logger.With("provider", cfg.Name),
	}
}

// Chat implements domain.LLMProvider.
func (p *OllamaProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return p.chat.Chat(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *OllamaProvider) Name() string { return p.chat.Name() }

// DefaultModel is the model used by personas that do not pick their own.
func (p *OllamaProvider) DefaultModel() string { return p.chat.model }

// Inventory lists the server's pulled models and reports which of required
// are missing. An empty required list means the provider's default model.
// A bare name such as "llama3.1" matches the "llama3.1:latest" tag.
func (p *OllamaProvider) Inventory(ctx context.Context, required ...string) (ModelInventory, error) {
	inv := ModelInventory{Provider: p.Name()}
	tags, err := p.tags(ctx)
	if err != nil {
		return inv, domain.NewSubSystemError("ollama", "OllamaProvider.Inventory", domain.ErrProviderError, err.Error())
	}
	inv.Available = tags

	pulled := make(map[string]bool, len(tags))
	for _, t := range tags {
		pulled[canonicalTag(t)] = true
	}
	for _, m := range p.required(required) {
		if !pulled[canonicalTag(m)] {
			inv.Missing = append(inv.Missing, m)
		}
	}
	return inv, nil
}

// Warmup loads each model into server memory so the first customer turn
// does not pay the load latency. Every model is attempted; failures are
// joined.
func (p *OllamaProvider) Warmup(ctx context.Context, models ...string) error {
	var errs []error
	for _, m := range p.required(models) {
		body, err := json.Marshal(map[string]string{"model": m, "keep_alive": ollamaKeepAlive})
		if err != nil {
			return fmt.Errorf("marshal warmup: %w", err)
		}
		start := time.Now()
		if _, err := doJSONRequest(ctx, p.client, p.baseURL+"/api/generate", body, nil); err != nil {
			errs = append(errs, fmt.Errorf("warm %s: %w", m, err))
			continue
		}
		p.logger.Info("model warmed up", "model", m, "duration", time.Since(start))
	}
	return errors.Join(errs...)
}

func (p *OllamaProvider) tags(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unreachable at %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, body)
	}

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names, nil
}

// required dedupes models, falling back to the default model.
func (p *OllamaProvider) required(models []string) []string {
	seen := make(map[string]bool, len(models))
	var out []string
	for _, m := range models {
		if m == "" {
			m = p.chat.model
		}
		if m == "" || seen[canonicalTag(m)] {
			continue
		}
		seen[canonicalTag(m)] = true
		out = append(out, m)
	}
	if len(out) == 0 && p.chat.model != "" {
		out = append(out, p.chat.model)
	}
	return out
}

func canonicalTag(name string) string {
	if !strings.Contains(name, ":") {
		return name + ":latest"
	}
	return name
}

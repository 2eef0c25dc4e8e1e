package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateAgents(cfg, ve)
	validateEscalation(cfg, ve)
	validateTranscript(cfg, ve)
	validateCustomer(cfg, ve)
	validateOperatorAuth(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.WriteTimeout <= 0 {
		ve.Add("server.write_timeout must be > 0")
	}
	if cfg.Server.ReadLimit <= 0 {
		ve.Add("server.read_limit must be > 0")
	}
	if cfg.Server.APIRatePerMinute < 0 {
		ve.Add("server.api_rate_per_minute must be >= 0")
	}
	if cfg.Server.APIRatePerMinute > 0 && cfg.Server.APIBurst <= 0 {
		ve.Add("server.api_burst must be > 0 when api rate limiting is enabled")
	}
}

var validProviderTypes = map[string]bool{
	"openai": true,
	"ollama": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if cfg.LLM.CallTimeout <= 0 {
		ve.Add("llm.call_timeout must be > 0")
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, ollama)", i, p.Type)
		}
		if p.Type == "openai" && p.APIKey == "" && p.BaseURL == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via %sLLM_PROVIDER_%s_API_KEY)",
				i, p.Name, EnvPrefix, strings.ToUpper(p.Name))
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	for i, fb := range cfg.LLM.Fallbacks {
		if !seen[fb] {
			ve.Add("llm.fallbacks[%d] %q does not match any configured provider", i, fb)
		} else if fb == cfg.LLM.DefaultProvider {
			ve.Add("llm.fallbacks[%d] %q duplicates the default provider", i, fb)
		}
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if cfg.Agents.MaxIterations <= 0 {
		ve.Add("agents.max_iterations must be > 0")
	}
	if cfg.Agents.Lookback <= 0 {
		ve.Add("agents.lookback must be > 0")
	}
	providerNames := make(map[string]bool, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		providerNames[p.Name] = true
	}
	seen := make(map[string]bool)
	for i, p := range cfg.Agents.Personas {
		if p.ID == "" {
			ve.Add("agents.personas[%d].id must not be empty", i)
			continue
		}
		if seen[p.ID] {
			ve.Add("agents.personas[%d]: duplicate persona id %q", i, p.ID)
		}
		seen[p.ID] = true
		if p.Provider != "" && !providerNames[p.Provider] {
			ve.Add("agents.personas[%d].provider %q does not match any configured provider", i, p.Provider)
		}
		if p.MaxIter < 0 {
			ve.Add("agents.personas[%d].max_iter must be >= 0", i)
		}
	}
}

func validateEscalation(cfg *Config, ve *ValidationError) {
	if cfg.Escalation.DeliveryTimeout <= 0 {
		ve.Add("escalation.delivery_timeout must be > 0")
	}
	if !cfg.Escalation.QueueWhenBusy {
		return
	}
	if cfg.Escalation.PendingTimeout <= 0 {
		ve.Add("escalation.pending_timeout must be > 0 when queue_when_busy is enabled")
	}
	if cfg.Escalation.SweepInterval <= 0 {
		ve.Add("escalation.sweep_interval must be > 0 when queue_when_busy is enabled")
	}
}

func validateTranscript(cfg *Config, ve *ValidationError) {
	switch cfg.Transcript.Backend {
	case "memory":
	case "redis":
		if cfg.Transcript.RedisURL == "" {
			ve.Add("transcript.redis_url is required when backend is redis")
		} else if u, err := url.Parse(cfg.Transcript.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			ve.Add("transcript.redis_url must be a redis:// or rediss:// URL")
		}
	default:
		ve.Add("transcript.backend %q is invalid (want: memory, redis)", cfg.Transcript.Backend)
	}
	if cfg.Transcript.MaxTurns < cfg.Agents.Lookback {
		ve.Add("transcript.max_turns (%d) must be >= agents.lookback (%d)", cfg.Transcript.MaxTurns, cfg.Agents.Lookback)
	}
	if cfg.Transcript.TTL < 0 {
		ve.Add("transcript.ttl must be >= 0")
	}
}

func validateCustomer(cfg *Config, ve *ValidationError) {
	if cfg.Customer.RatePerSecond < 0 {
		ve.Add("customer.rate_per_second must be >= 0")
	}
	if cfg.Customer.RatePerSecond > 0 && cfg.Customer.Burst <= 0 {
		ve.Add("customer.burst must be > 0 when rate limiting is enabled")
	}
	if cfg.Customer.MaxMessageBytes <= 0 {
		ve.Add("customer.max_message_bytes must be > 0")
	}
}

func validateOperatorAuth(cfg *Config, ve *ValidationError) {
	switch cfg.OperatorAuth.Type {
	case "":
	case "static":
		if len(cfg.OperatorAuth.Tokens) == 0 {
			ve.Add("operator_auth.tokens must not be empty when type is static")
		}
		for i, tok := range cfg.OperatorAuth.Tokens {
			if tok.Token == "" {
				ve.Add("operator_auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("operator_auth.type %q is invalid (want: static or empty)", cfg.OperatorAuth.Type)
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
	validExporters  = map[string]bool{"noop": true, "stdout": true, "": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
}

package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad addr", func(c *Config) { c.Server.Addr = "nocolon" }, "server.addr"},
		{"unknown provider type", func(c *Config) { c.LLM.Providers[0].Type = "bedrock" }, "type \"bedrock\" is invalid"},
		{"default provider missing", func(c *Config) { c.LLM.DefaultProvider = "cloud" }, "does not match any configured provider"},
		{"openai without key", func(c *Config) {
			c.LLM.Providers = append(c.LLM.Providers, ProviderConfig{Name: "cloud", Type: "openai", Model: "m"})
		}, "SUPPORTMESH_LLM_PROVIDER_CLOUD_API_KEY"},
		{"duplicate provider", func(c *Config) { c.LLM.Providers = append(c.LLM.Providers, c.LLM.Providers[0]) }, "duplicate provider"},
		{"zero iterations", func(c *Config) { c.Agents.MaxIterations = 0 }, "agents.max_iterations"},
		{"lookback above log cap", func(c *Config) { c.Agents.Lookback = 500 }, "transcript.max_turns"},
		{"duplicate persona", func(c *Config) {
			c.Agents.Personas = []PersonaOverride{{ID: "TriageAgent"}, {ID: "TriageAgent"}}
		}, "duplicate persona"},
		{"queue without timeout", func(c *Config) {
			c.Escalation.QueueWhenBusy = true
			c.Escalation.PendingTimeout = 0
		}, "escalation.pending_timeout"},
		{"redis without url", func(c *Config) { c.Transcript.Backend = "redis" }, "redis_url is required"},
		{"redis bad scheme", func(c *Config) {
			c.Transcript.Backend = "redis"
			c.Transcript.RedisURL = "http://localhost:6379"
		}, "redis:// or rediss://"},
		{"unknown transcript backend", func(c *Config) { c.Transcript.Backend = "sqlite" }, "transcript.backend"},
		{"static auth without tokens", func(c *Config) { c.OperatorAuth.Type = "static" }, "operator_auth.tokens"},
		{"bad log level", func(c *Config) { c.Logger.Level = "loud" }, "logger.level"},
		{"bad sample ratio", func(c *Config) { c.Tracer.SampleRatio = 2 }, "tracer.sample_ratio"},
		{"burst without rate", func(c *Config) { c.Customer.Burst = 0 }, "customer.burst"},
		{"unknown fallback", func(c *Config) { c.LLM.Fallbacks = []string{"backup"} }, "llm.fallbacks[0] \"backup\""},
		{"fallback equals default", func(c *Config) { c.LLM.Fallbacks = []string{"ollama"} }, "duplicates the default provider"},
		{"persona with unknown provider", func(c *Config) {
			c.Agents.Personas = []PersonaOverride{{ID: "BillingAgent", Provider: "cloud"}}
		}, "agents.personas[0].provider"},
		{"api rate without burst", func(c *Config) { c.Server.APIBurst = 0 }, "server.api_burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = ""
	cfg.Agents.MaxIterations = 0
	cfg.Logger.Format = "xml"

	err := Validate(cfg)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 3)
}

func TestValidateRedisURL(t *testing.T) {
	cfg := Defaults()
	cfg.Transcript.Backend = "redis"
	cfg.Transcript.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, Validate(cfg))
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportmesh/internal/infra/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "Ollama is running")
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3.1:latest"},{"name":"qwen2.5:7b"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunChecksAllPass(t *testing.T) {
	ollama := fakeOllama(t)
	mr := miniredis.RunT(t)
	path := writeConfig(t, fmt.Sprintf(`
llm:
  default_provider: local
  providers:
    - name: local
      type: ollama
      base_url: %q
      model: llama3.1:latest
transcript:
  backend: redis
  redis_url: "redis://%s/0"
operator_auth:
  type: static
  tokens:
    - token: t1
      name: desk
`, ollama.URL, mr.Addr()))

	var out bytes.Buffer
	require.NoError(t, runChecks(context.Background(), &out, path))

	text := out.String()
	assert.Contains(t, text, "[PASS] Ollama: reachable: local (2 models)")
	assert.Contains(t, text, "[PASS] Transcript backend: redis "+mr.Addr()+" reachable")
	assert.Contains(t, text, "[PASS] Operator auth: 1 operator token(s)")
	assert.Contains(t, text, "Results: 5 passed, 0 warnings, 0 failed")
}

func TestRunChecksReportsFailures(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	path := writeConfig(t, fmt.Sprintf(`
llm:
  default_provider: local
  providers:
    - name: local
      type: ollama
      base_url: %q
      model: llama3.1:latest
`, down.URL))

	var out bytes.Buffer
	err := runChecks(context.Background(), &out, path)
	require.Error(t, err)
	assert.Equal(t, "1 check(s) failed", err.Error())

	text := out.String()
	assert.Contains(t, text, "[FAIL] Ollama: unreachable: local")
	assert.Contains(t, text, "[WARN] Operator auth")
	assert.Contains(t, text, "[PASS] Transcript backend: in-memory conversation log")
}

func TestCheckOllamaReportsMissingPersonaModels(t *testing.T) {
	ollama := fakeOllama(t)
	cfg := config.Defaults()
	cfg.LLM.DefaultProvider = "local"
	cfg.LLM.Providers = []config.ProviderConfig{{Name: "local", Type: "ollama", BaseURL: ollama.URL, Model: "llama3.1"}}
	cfg.Agents.Personas = []config.PersonaOverride{
		{ID: "BillingAgent", Model: "qwen2.5:7b"},
		{ID: "TechnicalAgent", Model: "mistral"},
	}

	res := checkOllama(context.Background(), cfg)
	assert.Equal(t, StatusWarn, res.Status)
	assert.Equal(t, "models not pulled: local needs mistral", res.Message)

	cfg.Agents.Personas = cfg.Agents.Personas[:1]
	res = checkOllama(context.Background(), cfg)
	assert.Equal(t, StatusPass, res.Status)
	assert.Equal(t, "reachable: local (2 models)", res.Message)
}

func TestRunChecksInvalidConfig(t *testing.T) {
	path := writeConfig(t, "agents:\n  max_iterations: 0\n")

	var out bytes.Buffer
	err := runChecks(context.Background(), &out, path)
	require.Error(t, err)

	text := out.String()
	assert.Contains(t, text, "[FAIL] Config file")
	assert.Contains(t, text, "agents.max_iterations")
	assert.Contains(t, text, "cannot check, config not loaded")
}

func TestCheckLLMAPIKeys(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, StatusPass, checkLLMAPIKeys(context.Background(), cfg).Status)

	cfg.LLM.Providers = append(cfg.LLM.Providers,
		config.ProviderConfig{Name: "cloud", Type: "openai", APIKey: "sk-1"},
		config.ProviderConfig{Name: "backup", Type: "openai"},
	)
	res := checkLLMAPIKeys(context.Background(), cfg)
	assert.Equal(t, StatusFail, res.Status)
	assert.Equal(t, "no API key for: backup", res.Message)
}

func TestCheckTranscriptBackendUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Transcript.Backend = "redis"
	cfg.Transcript.RedisURL = "redis://" + mr.Addr()
	mr.Close()

	res := checkTranscriptBackend(context.Background(), cfg)
	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Message, "cannot reach")
}

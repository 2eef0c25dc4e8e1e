package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SUPPORTMESH_"

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Agents       AgentsConfig       `yaml:"agents"`
	Escalation   EscalationConfig   `yaml:"escalation"`
	Routing      RoutingConfig      `yaml:"routing"`
	Transcript   TranscriptConfig   `yaml:"transcript"`
	Customer     CustomerConfig     `yaml:"customer"`
	OperatorAuth OperatorAuthConfig `yaml:"operator_auth"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds HTTP and WebSocket listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	StaticDir       string        `yaml:"static_dir"` // empty = no static files
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadLimit       int64         `yaml:"read_limit"` // max inbound frame size in bytes

	// APIRatePerMinute limits REST requests per client IP. 0 disables.
	APIRatePerMinute int      `yaml:"api_rate_per_minute"`
	APIBurst         int      `yaml:"api_burst"`
	TrustedProxies   []string `yaml:"trusted_proxies,omitempty"`
}

// LLMConfig holds inference provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Fallbacks       []string             `yaml:"fallbacks,omitempty"` // tried in order when the default fails
	CallTimeout     time.Duration        `yaml:"call_timeout"`
	MaxTokens       int                  `yaml:"max_tokens"`
	Temperature     float64              `yaml:"temperature"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // openai | ollama
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// AgentsConfig holds specialist handler settings.
type AgentsConfig struct {
	MaxIterations int               `yaml:"max_iterations"`
	Lookback      int               `yaml:"lookback"` // turns replayed when rebuilding context
	Personas      []PersonaOverride `yaml:"personas,omitempty"`
}

// PersonaOverride replaces parts of a built-in persona, matched by ID.
type PersonaOverride struct {
	ID           string `yaml:"id"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Provider     string `yaml:"provider,omitempty"`
	MaxIter      int    `yaml:"max_iter,omitempty"`
}

// EscalationConfig holds human escalation settings.
type EscalationConfig struct {
	QueueWhenBusy   bool          `yaml:"queue_when_busy"`
	PendingTimeout  time.Duration `yaml:"pending_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// RoutingConfig holds customer message routing settings.
type RoutingConfig struct {
	// Sticky sends follow-up customer messages to the AI role that last
	// answered instead of triage.
	Sticky bool `yaml:"sticky"`
}

// TranscriptConfig selects the conversation log backend.
type TranscriptConfig struct {
	Backend  string        `yaml:"backend"` // memory | redis
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	MaxTurns int           `yaml:"max_turns"`
}

// CustomerConfig limits inbound customer traffic.
type CustomerConfig struct {
	RatePerSecond   float64 `yaml:"rate_per_second"`
	Burst           int     `yaml:"burst"`
	MaxMessageBytes int     `yaml:"max_message_bytes"`
}

// OperatorAuthConfig holds operator socket authentication settings.
type OperatorAuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single operator auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			ReadLimit:       64 * 1024,

			APIRatePerMinute: 120,
			APIBurst:         20,
		},
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			Providers: []ProviderConfig{{
				Name:    "ollama",
				Type:    "ollama",
				BaseURL: "http://localhost:11434",
				Model:   "llama3.1:latest",
			}},
			CallTimeout: 60 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Agents: AgentsConfig{
			MaxIterations: 10,
			Lookback:      10,
		},
		Escalation: EscalationConfig{
			QueueWhenBusy:   false,
			PendingTimeout:  2 * time.Minute,
			SweepInterval:   5 * time.Second,
			DeliveryTimeout: 5 * time.Second,
		},
		Transcript: TranscriptConfig{
			Backend:  "memory",
			TTL:      24 * time.Hour,
			MaxTurns: 200,
		},
		Customer: CustomerConfig{
			RatePerSecond:   2,
			Burst:           5,
			MaxMessageBytes: 8 * 1024,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
			ServiceName: "supportmesh",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return finish(cfg)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(EnvPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SUPPORTMESH_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	envString("SERVER_ADDR", &cfg.Server.Addr)
	envString("SERVER_STATIC_DIR", &cfg.Server.StaticDir)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envInt("SERVER_API_RATE_PER_MINUTE", &cfg.Server.APIRatePerMinute)

	envString("LLM_DEFAULT_PROVIDER", &cfg.LLM.DefaultProvider)
	envDuration("LLM_CALL_TIMEOUT", &cfg.LLM.CallTimeout)
	envBool("LLM_CIRCUIT_BREAKER_ENABLED", &cfg.LLM.CircuitBreaker.Enabled)

	envInt("AGENTS_MAX_ITERATIONS", &cfg.Agents.MaxIterations)
	envInt("AGENTS_LOOKBACK", &cfg.Agents.Lookback)

	envBool("ESCALATION_QUEUE_WHEN_BUSY", &cfg.Escalation.QueueWhenBusy)
	envDuration("ESCALATION_PENDING_TIMEOUT", &cfg.Escalation.PendingTimeout)
	envDuration("ESCALATION_SWEEP_INTERVAL", &cfg.Escalation.SweepInterval)

	envBool("ROUTING_STICKY", &cfg.Routing.Sticky)

	envString("TRANSCRIPT_BACKEND", &cfg.Transcript.Backend)
	envString("TRANSCRIPT_REDIS_URL", &cfg.Transcript.RedisURL)
	envDuration("TRANSCRIPT_TTL", &cfg.Transcript.TTL)
	envInt("TRANSCRIPT_MAX_TURNS", &cfg.Transcript.MaxTurns)

	envString("LOGGER_LEVEL", &cfg.Logger.Level)
	envString("LOGGER_FORMAT", &cfg.Logger.Format)
	envString("LOGGER_OUTPUT", &cfg.Logger.Output)

	envBool("TRACER_ENABLED", &cfg.Tracer.Enabled)
	envString("TRACER_EXPORTER", &cfg.Tracer.Exporter)

	envBool("METRICS_ENABLED", &cfg.Metrics.Enabled)

	// Operator tokens: SUPPORTMESH_OPERATOR_TOKENS=name:token,name2:token2
	if v := os.Getenv(EnvPrefix + "OPERATOR_TOKENS"); v != "" {
		cfg.OperatorAuth.Type = "static"
		cfg.OperatorAuth.Tokens = nil
		for _, pair := range splitAndTrim(v, ",") {
			name, token, ok := strings.Cut(pair, ":")
			if !ok || token == "" {
				continue
			}
			cfg.OperatorAuth.Tokens = append(cfg.OperatorAuth.Tokens, TokenConfig{Name: name, Token: token})
		}
	}

	// Per-provider overrides: SUPPORTMESH_LLM_PROVIDER_<NAME>_API_KEY and _BASE_URL.
	for i := range cfg.LLM.Providers {
		name := strings.ToUpper(cfg.LLM.Providers[i].Name)
		envString("LLM_PROVIDER_"+name+"_API_KEY", &cfg.LLM.Providers[i].APIKey)
		envString("LLM_PROVIDER_"+name+"_BASE_URL", &cfg.LLM.Providers[i].BaseURL)
		envString("LLM_PROVIDER_"+name+"_MODEL", &cfg.LLM.Providers[i].Model)
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in provider API keys, the Redis URL
// and operator tokens, and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		if err := decryptField(&cfg.LLM.Providers[i].APIKey, passphrase); err != nil {
			return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
		}
	}
	if err := decryptField(&cfg.Transcript.RedisURL, passphrase); err != nil {
		return fmt.Errorf("transcript redis_url: %w", err)
	}
	for i := range cfg.OperatorAuth.Tokens {
		if err := decryptField(&cfg.OperatorAuth.Tokens[i].Token, passphrase); err != nil {
			return fmt.Errorf("operator token %s: %w", cfg.OperatorAuth.Tokens[i].Name, err)
		}
	}
	return nil
}

func decryptField(fp *string, passphrase string) error {
	if !strings.HasPrefix(*fp, "enc:") {
		return nil
	}
	decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
	if err != nil {
		return err
	}
	*fp = decrypted
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

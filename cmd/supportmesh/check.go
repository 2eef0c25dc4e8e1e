package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"supportmesh/internal/infra/config"
	"supportmesh/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and probe its backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return runChecks(ctx, cmd.OutOrStdout(), root.configPath)
		},
	}
}

// runChecks executes all checks and reports results to w.
func runChecks(ctx context.Context, w io.Writer, cfgPath string) error {
	// Some checks work without a valid config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API keys", Fn: checkLLMAPIKeys},
		{Name: "Ollama", Fn: checkOllama},
		{Name: "Transcript backend", Fn: checkTranscriptBackend},
		{Name: "Operator auth", Fn: checkOperatorAuth},
	}

	fmt.Fprintln(w, "supportmesh check")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile returns a check that reports the load error, if any.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     "Fix the listed fields in " + cfgPath + " or the matching " + config.EnvPrefix + "* variables",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found, running on defaults and environment", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: "config loaded from " + cfgPath}
	}
}

// checkLLMAPIKeys verifies hosted providers have keys.
func checkLLMAPIKeys(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	var missing []string
	hosted := 0
	for _, p := range cfg.LLM.Providers {
		if p.Type != "openai" {
			continue
		}
		hosted++
		if p.APIKey == "" {
			missing = append(missing, p.Name)
		}
	}
	switch {
	case len(missing) > 0:
		return CheckResult{
			Status:  StatusFail,
			Message: "no API key for: " + strings.Join(missing, ", "),
			Fix:     "Set " + config.EnvPrefix + "LLM_PROVIDER_<NAME>_API_KEY",
		}
	case hosted == 0:
		return CheckResult{Status: StatusPass, Message: "no hosted providers configured"}
	default:
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d hosted provider(s) have keys", hosted)}
	}
}

// checkOllama confirms every Ollama provider is reachable and has pulled the
// models its personas run on.
func checkOllama(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	llms, err := initLLM(cfg.LLM, logger.Nop())
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	providers := llms.Registry.Ollama()
	if len(providers) == 0 {
		return CheckResult{Status: StatusPass, Message: "no Ollama providers configured"}
	}
	personas, err := initPersonas(cfg, logger.Nop())
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	models := llms.ollamaModels(personas, cfg.LLM.DefaultProvider)

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var down, missing, up []string
	for _, name := range names {
		inv, err := providers[name].Inventory(ctx, models[name]...)
		switch {
		case err != nil:
			down = append(down, name)
		case !inv.Ready():
			missing = append(missing, fmt.Sprintf("%s needs %s", name, strings.Join(inv.Missing, ", ")))
		default:
			up = append(up, fmt.Sprintf("%s (%d models)", name, len(inv.Available)))
		}
	}
	switch {
	case len(down) > 0:
		return CheckResult{
			Status:  StatusFail,
			Message: "unreachable: " + strings.Join(down, ", "),
			Fix:     "Start Ollama or fix llm.providers[].base_url",
		}
	case len(missing) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: "models not pulled: " + strings.Join(missing, "; "),
			Fix:     "Run 'ollama pull <model>' on the server",
		}
	}
	return CheckResult{Status: StatusPass, Message: "reachable: " + strings.Join(up, ", ")}
}

// checkTranscriptBackend pings Redis when it backs the conversation log.
func checkTranscriptBackend(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.Transcript.Backend != "redis" {
		return CheckResult{Status: StatusPass, Message: "in-memory conversation log"}
	}
	opts, err := redis.ParseURL(cfg.Transcript.RedisURL)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	client := redis.NewClient(opts)
	defer client.Close()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", opts.Addr, err),
			Fix:     "Check transcript.redis_url and that Redis is running",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("redis %s reachable (latency: %dms)", opts.Addr, time.Since(start).Milliseconds()),
	}
}

// checkOperatorAuth warns when operator sockets are open to anyone.
func checkOperatorAuth(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.OperatorAuth.Type != "static" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "operator sockets accept any client",
			Fix:     "Set operator_auth.type: static and list tokens",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d operator token(s)", len(cfg.OperatorAuth.Tokens))}
}

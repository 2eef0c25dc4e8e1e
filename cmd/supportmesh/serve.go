package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"supportmesh/internal/infra/config"
	"supportmesh/internal/infra/logger"
	"supportmesh/internal/infra/tracer"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the support server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root.configPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func runServe(ctx context.Context, cfgPath, addr string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	llms, err := initLLM(cfg.LLM, log)
	if err != nil {
		return err
	}
	app, err := buildApp(cfg, llms, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Warn("runtime shutdown", "error", err)
		}
	}()

	log.Info("supportmesh starting", "version", version, "addr", cfg.Server.Addr)

	g, gctx := errgroup.WithContext(ctx)
	models := llms.ollamaModels(app.Personas, cfg.LLM.DefaultProvider)
	for name, p := range llms.Registry.Ollama() {
		g.Go(func() error {
			// A cold model is not fatal; the first customer turn pays the load.
			inv, err := p.Inventory(gctx, models[name]...)
			if err != nil {
				log.Warn("ollama unreachable", "provider", name, "error", err)
				return nil
			}
			if !inv.Ready() {
				log.Warn("persona models not pulled, skipping warmup", "provider", name, "missing", inv.Missing)
				return nil
			}
			if err := p.Warmup(gctx, models[name]...); err != nil {
				log.Warn("ollama warmup failed", "provider", name, "error", err)
			}
			return nil
		})
	}
	g.Go(func() error { return app.Gateway.Start(gctx) })
	if app.Queue != nil {
		g.Go(func() error { return app.Queue.Run(gctx) })
	}
	err = g.Wait()
	log.Info("supportmesh stopped")
	return err
}

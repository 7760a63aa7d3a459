// Package main implements the collaborator bot that answers questions about recent activity.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/collab"
	"github.com/codeGROOVE-dev/daily-digest/pkg/config"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
	"github.com/codeGROOVE-dev/daily-digest/pkg/setup"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	serverIdleTimeout  = 120 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	// Set up structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("Bot exited with error", "error", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string
	var port int
	cmd := &cobra.Command{
		Use:          "daily-digest-bot",
		Short:        "Answer questions about recent engineering activity in chat threads",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Bot.Port = port
			} else if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
				cfg.Bot.Port = p
			}
			if err := cfg.ValidateBot(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "daily-digest.yaml", "Path to the YAML configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Optional .env file with credentials")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (default from config or PORT, 8080)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	client, err := setup.GitHubClient(ctx, cfg)
	if err != nil {
		return err
	}
	description, err := cfg.ProjectContext()
	if err != nil {
		return err
	}
	projectContext := collab.NewProjectContext(description)
	if cfg.ContextFile != "" {
		if err := projectContext.Watch(ctx, cfg.ContextFile); err != nil {
			slog.Warn("Context file will not be reloaded", "path", cfg.ContextFile, "error", err)
		}
	}

	m := metrics.New()
	names := authors.New(cfg.Authors)
	sources := setup.Sources(cfg, client, false)
	cache := collab.NewCache(snapshotLoader(sources, cfg.Lookback(), names, m),
		collab.CacheConfig{TTL: cfg.Bot.StaleAfter, Metrics: m, PopulateTimeout: cfg.Timeouts.Stage})

	pipe := setup.Pipeline(cfg, m)
	collaborator := &collab.Collaborator{
		Cache:    cache,
		Answerer: pipe,
		Replier:  setup.Replier(cfg),
		Context:  projectContext,
		Metrics:  m,
		Authors:  names,
	}

	var health func() map[string]any
	if cfg.Bot.Sprinkler {
		monitor := collab.NewEventMonitor(cfg.GitHub.Org, client.Token, cache)
		go monitor.Run(ctx)
		defer monitor.Stop()
		health = func() map[string]any { return map[string]any{"events": monitor.HealthStatus()} }
	}

	if cfg.Bot.ReportEvery > 0 {
		s := &scheduler{cfg: cfg, sources: sources, pipeline: pipe, metrics: m, authors: names, context: projectContext, cache: cache}
		go s.loop(ctx, cfg.Bot.ReportEvery)
	}

	server := collab.NewServer(collab.ServerConfig{
		Dispatcher:    collaborator,
		Cache:         cache,
		Metrics:       m,
		Health:        health,
		SigningSecret: cfg.Credentials.ChatSigningKey,
	})
	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Bot.Port),
		Handler:      server.Handler(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting collaborator server", "port", cfg.Bot.Port, "sprinkler", cfg.Bot.Sprinkler, "report_every", cfg.Bot.ReportEvery)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}
	collaborator.Wait()
	return nil
}

// Command osngd serves the Ordnance Survey NGD tools over MCP, and its REST
// companion for clients that cannot speak MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/osngd/internal/app"
	"github.com/MrWong99/osngd/internal/config"
	"github.com/MrWong99/osngd/internal/httpserver"
	"github.com/MrWong99/osngd/internal/mcp/mcpclient"
	"github.com/MrWong99/osngd/internal/mcp/server"
	"github.com/MrWong99/osngd/internal/observe"
	"github.com/MrWong99/osngd/internal/rest"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "osngd",
		Short:         "MCP server for the Ordnance Survey NGD Features API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the YAML configuration file (environment and defaults only when empty)")

	var transport string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio or streamable HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return reportErr(runServe(cmd.Context(), configPath, config.Transport(transport)))
		},
	}
	serve.Flags().StringVar(&transport, "transport", "", "override server.transport (stdio or streamable-http)")

	restCmd := &cobra.Command{
		Use:   "rest",
		Short: "Run the REST companion in front of a running MCP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return reportErr(runREST(cmd.Context(), configPath))
		},
	}

	root.AddCommand(serve, restCmd)
	return root
}

func reportErr(err error) error {
	if err != nil {
		fmt.Fprintf(os.Stderr, "osngd: %v\n", err)
	}
	return err
}

// ── serve ─────────────────────────────────────────────────────────────────────

func runServe(parent context.Context, configPath string, transport config.Transport) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if transport != "" {
		cfg.Server.Transport = transport
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	// stdout carries the stdio transport, so logs always go to stderr.
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(parentOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "osngd",
		ServiceVersion: server.Version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, app.WithLevel(level))
	if err != nil {
		return err
	}
	if configPath != "" {
		if err := application.Watch(configPath); err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		}
	}

	runErr := application.Run(ctx)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	return runErr
}

// ── rest ──────────────────────────────────────────────────────────────────────

func runREST(parent context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Auth.BearerTokens) == 0 {
		return errors.New("the REST companion needs auth.bearer_tokens or BEARER_TOKENS")
	}

	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(parentOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "osngd-rest",
		ServiceVersion: server.Version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	tokens := httpserver.NewTokens(cfg.Auth.BearerTokens...)
	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(app.SlogLevel(d.NewLogLevel))
			}
			if d.TokensChanged {
				tokens.Set(d.NewTokens)
				slog.Info("bearer tokens rotated", "count", tokens.Len())
			}
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	client := mcpclient.New(cfg.REST.MCPURL)
	defer client.Close()

	router := rest.NewRouter(client, rest.Options{
		Tokens:      tokens,
		CORSOrigins: cfg.REST.CORSOrigins,
	})
	slog.Info("osngd rest starting", "listen_addr", cfg.REST.ListenAddr, "mcp_url", cfg.REST.MCPURL)
	return rest.Run(ctx, cfg.REST.ListenAddr, observe.Middleware(observe.DefaultMetrics())(router))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return nil, err
	}
	return cfg, nil
}

func parentOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	key := "set"
	if cfg.Upstream.APIKey == "" {
		key = "(missing)"
	}
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          osngd: startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Transport       : %-19s ║\n", cfg.Server.Transport)
	if cfg.Server.Transport == config.TransportStreamableHTTP {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
		fmt.Fprintf(w, "║  Bearer tokens   : %-19d ║\n", len(cfg.Auth.BearerTokens))
	}
	fmt.Fprintf(w, "║  OS API key      : %-19s ║\n", key)
	fmt.Fprintf(w, "║  Rate limit/min  : %-19d ║\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Fprintf(w, "║  Log level       : %-19s ║\n", cfg.Server.LogLevel)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

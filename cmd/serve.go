package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mailtriage/handlers/api"
	"mailtriage/internal/instrumentation"
	"mailtriage/internal/logging"
	"mailtriage/internal/server"
)

// gcInterval is how often expired rows are purged from SQLite storage.
const gcInterval = time.Hour

type garbageCollector interface {
	GC() (int64, error)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		host         string
		port         int
		checkBackend bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web application",
		Long: `Run the web application.

The server renders the search page at /, the results at /results and
accepts actions at /action. Health is reported at /health and, when
telemetry uses the prometheus exporter, metrics at /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			telemetry, err := instrumentation.NewProvider(ctx, instrumentation.FromConfig(cfg.Telemetry, version))
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(shutdownCtx); err != nil {
					logger.Warn("telemetry shutdown failed", logging.Err(err))
				}
			}()

			rt, err := build(cfg, logger, telemetry.Metrics())
			if err != nil {
				return err
			}
			defer rt.Close()

			if checkBackend {
				pingBackend(ctx, rt.client, logger)
			}

			secret := cfg.Security.TokenSecret
			if secret == "" {
				secret, err = api.GenerateSecret()
				if err != nil {
					return err
				}
				logger.Warn("no token secret configured, using a random one; rendered results will not survive a restart")
			}
			tokens, err := api.NewTokenSigner(secret, cfg.Storage.Expiration)
			if err != nil {
				return err
			}

			if gc, ok := rt.storage.(garbageCollector); ok {
				go runGC(ctx, gc, logger)
			}

			app := server.New(server.Options{
				Config:    cfg,
				Service:   rt.service,
				Tokens:    tokens,
				Storage:   rt.storage,
				Telemetry: telemetry,
				Logger:    logger,
			})

			logger.Info("backend configured", slog.String("base_url", rt.client.BaseURL()))
			return server.Serve(ctx, app, cfg.Addr(), cfg.Server.ShutdownTimeout, logger)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	cmd.Flags().BoolVar(&checkBackend, "check-backend", false, "Ping the backend at startup and log the result")

	return cmd
}

// pingBackend logs whether the backend answers. A failure is not fatal.
func pingBackend(ctx context.Context, client *api.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg, err := client.Ping(ctx)
	if err != nil {
		logger.Warn("backend is not reachable", slog.String("base_url", client.BaseURL()), logging.Err(err))
		return
	}
	logger.Info("backend is reachable", slog.String("base_url", client.BaseURL()), slog.String("message", msg))
}

func runGC(ctx context.Context, gc garbageCollector, logger *slog.Logger) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := gc.GC()
			if err != nil {
				logger.Warn("storage cleanup failed", logging.Err(err))
				continue
			}
			logger.Debug("storage cleanup done", slog.Int64("removed", n))
		}
	}
}

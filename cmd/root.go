package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"mailtriage/config"
	"mailtriage/handlers/api"
	"mailtriage/internal/handoff"
	"mailtriage/internal/instrumentation"
	"mailtriage/internal/logging"
	"mailtriage/internal/triage"
	"mailtriage/storage"
)

// version will be set by main
var version = "dev"

// SetVersion sets the version reported by the CLI
func SetVersion(v string) {
	version = v
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	backendURL string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mailtriage",
		Short: "Search emails by keyword and trash, archive or dry-run them",
		Long: `mailtriage is a front end for an email-management backend.

It searches emails by keyword, shows the results and applies an action
(trash, archive or dry-run) to a single result. It can run as:
  - A web application (serve)
  - A terminal UI (tui)
  - Plain CLI commands (search, results, act)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "mailtriage version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default: search standard locations)")
	flags.StringVar(&opts.backendURL, "backend-url", "", "Base URL of the email backend (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (overrides config)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newResultsCmd(opts))
	cmd.AddCommand(newActCmd(opts))
	cmd.AddCommand(newTUICmd(opts))
	cmd.AddCommand(newInitConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute is the main entry point for the CLI application
func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// load reads the configuration, applies flag overrides and builds the logger.
// Logs go to stderr so command output stays clean.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}

	if o.backendURL != "" {
		cfg.Backend.BaseURL = o.backendURL
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// runtime is the set of long-lived objects a command works with.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	storage fiber.Storage
	client  *api.Client
	service *triage.Service
}

func (o *rootOptions) open(cmd *cobra.Command, metrics *instrumentation.Metrics) (*runtime, error) {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	return build(cfg, logger, metrics)
}

// build opens storage and wires the backend client into a triage service.
func build(cfg *config.Config, logger *slog.Logger, metrics *instrumentation.Metrics) (*runtime, error) {
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	client, err := api.NewClient(cfg.Backend.BaseURL,
		api.WithTimeout(cfg.Backend.Timeout),
		api.WithMetrics(metrics),
		api.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	service := triage.New(client, handoff.NewStore(store, cfg.Storage.Expiration),
		triage.WithLogger(logger),
		triage.WithMetrics(metrics))

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		storage: store,
		client:  client,
		service: service,
	}, nil
}

func (r *runtime) Close() error {
	return r.storage.Close()
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"igautomate/internal/app"
	"igautomate/pkg/config"
	"igautomate/pkg/logger"
	"igautomate/pkg/secrets"
)

type serveOptions struct {
	address    string
	backend    string
	dsn        string
	secretsDir string
}

func newServeCmd(g *globalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker and its HTTP API",
		Long: `Run the rate-limit tracker with its HTTP API until interrupted.

On start the engagement index is hydrated from the store and any snapshot
left by an earlier shutdown is merged back. On SIGINT or SIGTERM the server
drains, pending engagement writes are flushed and the store is closed.`,
		Example: `  # In-memory store on :8080
  igautomate serve

  # PostgreSQL with the DSN kept in the keychain
  igautomate secrets set store-dsn
  IGAUTOMATE_STORE_DSN_SECRET=store-dsn igautomate serve --store-backend postgres`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "listen address (default :8080)")
	cmd.Flags().StringVar(&opts.backend, "store-backend", "", "store backend (memory, postgres, redis)")
	cmd.Flags().StringVar(&opts.dsn, "store-dsn", "", "store connection string")
	cmd.Flags().StringVar(&opts.secretsDir, "secrets-dir", "", "directory of the encrypted secrets file")
	return cmd
}

func runServe(ctx context.Context, g *globalOptions, opts *serveOptions) error {
	flags := g.flags()
	flags["address"] = opts.address
	flags["store-backend"] = opts.backend
	flags["store-dsn"] = opts.dsn

	cfg, err := config.Load(g.configFile, flags)
	if err != nil {
		return g.fail("Failed to load configuration", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return g.fail("Failed to initialize logger", err)
	}
	log := logger.GetLogger()

	g.printer.PrintBanner()
	g.printer.Info("Address", cfg.Server.Address)
	g.printer.Info("Store", cfg.Store.Backend)

	var appOpts []app.Option
	appOpts = append(appOpts, app.WithLogger(log))
	if cfg.Store.DSNSecret != "" {
		mgr, err := secrets.NewManager(opts.secretsDir)
		if err != nil {
			return g.fail("Failed to open secret stores", err)
		}
		appOpts = append(appOpts, app.WithSecrets(mgr))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		log.WithError(err).Error("Startup failed")
		return g.fail("Failed to start", err)
	}

	log.WithFields(map[string]interface{}{
		"version": version,
		"address": cfg.Server.Address,
		"backend": cfg.Store.Backend,
	}).Info("igautomate starting")

	if err := a.Run(ctx); err != nil {
		return g.fail("Server stopped with errors", err)
	}
	g.printer.Success("Shutdown complete")
	return nil
}

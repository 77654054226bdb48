package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igautomate/pkg/config"
	"igautomate/pkg/snapshot"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
		Long: `Manage igautomate configuration files.

Configuration is loaded from, highest priority first:
  - Command line flags
  - Environment variables (IGAUTOMATE_*)
  - .env files
  - Configuration file
  - Default values`,
	}
	cmd.AddCommand(newConfigInitCmd(g), newConfigShowCmd(g), newConfigValidateCmd(g))
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default values",
		Long: `Write a configuration file holding every option at its default value.

The file is created as 'igautomate.yaml' in the current directory unless
--config names another path. The shutdown snapshot path is set to the
per-user data directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.configFile
			if path == "" {
				path = "igautomate.yaml"
			}

			if _, err := os.Stat(path); err == nil && !force {
				g.printer.Error("Configuration file already exists", path)
				g.printer.Warning("Use --force to overwrite it")
				return reportedError{fmt.Errorf("%s already exists", path)}
			}

			cfg := config.DefaultConfig()
			if p, err := snapshot.DefaultPath(); err == nil {
				cfg.Maintenance.SnapshotPath = p
			}
			if err := cfg.Save(path); err != nil {
				return g.fail("Failed to write configuration file", err)
			}

			g.printer.Success("Configuration file created: " + path)
			fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
			fmt.Fprintln(cmd.OutOrStdout(), "1. Pick a store backend and set store.dsn or store.dsn_secret")
			fmt.Fprintln(cmd.OutOrStdout(), "2. Run 'igautomate config validate' to check the configuration")
			fmt.Fprintln(cmd.OutOrStdout(), "3. Start the service with 'igautomate serve'")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging every source. The store DSN is
masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configFile, g.flags())
			if err != nil {
				return g.fail("Failed to load configuration", err)
			}

			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return g.fail("Failed to format configuration", err)
			}

			g.printer.Highlight("Current Configuration")
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration from every source and check it.

Errors fail the command. Warnings flag settings that are valid but
probably not what a production deployment wants.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.configFile != "" {
				g.printer.Info("Validating configuration", g.configFile)
			}

			cfg, err := config.Load(g.configFile, g.flags())
			if err != nil {
				g.printer.Error("Configuration has errors:")
				var joined interface{ Unwrap() []error }
				if errors.As(err, &joined) {
					for _, e := range joined.Unwrap() {
						g.printer.List([]string{e.Error()})
					}
				} else {
					g.printer.List([]string{err.Error()})
				}
				return reportedError{err}
			}

			var warnings []string
			if cfg.Store.Backend == config.BackendMemory {
				warnings = append(warnings, "memory store: engaged users are lost on restart")
			}
			if cfg.Maintenance.SnapshotPath == "" {
				warnings = append(warnings, "no snapshot path: engagements are dropped if the final sync fails")
			}
			if cfg.Store.DSN != "" && cfg.Store.DSNSecret == "" {
				warnings = append(warnings, "store dsn is stored in plain text, consider dsn_secret")
			}
			if len(warnings) > 0 {
				g.printer.Warning("Configuration warnings:")
				g.printer.List(warnings)
				fmt.Fprintln(cmd.OutOrStdout())
			}

			g.printer.Success("Configuration is valid")
			fmt.Fprintln(cmd.OutOrStdout(), "\nConfiguration summary:")
			g.printer.Table(map[string]string{
				"address":                 cfg.Server.Address,
				"store":                   cfg.Store.Backend,
				"calls_per_user_per_hour": fmt.Sprint(cfg.RateLimit.CallsPerUserPerHour),
				"engagement_window":       cfg.Engagement.Window.String(),
				"debounce_delay":          cfg.Engagement.DebounceDelay.String(),
				"log_level":               cfg.Logging.Level,
			})
			return nil
		},
	}
}

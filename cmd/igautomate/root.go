package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"igautomate/pkg/ui"
)

var (
	// Version information, set with -ldflags at build time
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	noColor    bool

	printer *ui.Printer
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "igautomate",
		Short: "Track Instagram API call budgets for automation workers",
		Long: `igautomate keeps the per-API sliding-window quotas and the engagement-based
platform-wide budget of Instagram business accounts, so automation workers can
ask before every outbound Graph API call.

Engaged users are persisted to PostgreSQL, Redis or kept in memory, and the
budget of each account grows with the number of users who engaged with it in
the last 24 hours.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.printer = ui.NewPrinter(cmd.OutOrStdout(), opts.noColor)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: ./igautomate.yaml or ~/.config/igautomate/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json, console)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.SetVersionTemplate(`igautomate {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newServeCmd(opts),
		newConfigCmd(opts),
		newSecretsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// flags returns the persistent flags in the form config.Load merges
func (o *globalOptions) flags() map[string]interface{} {
	return map[string]interface{}{
		"log-level":  o.logLevel,
		"log-format": o.logFormat,
	}
}

// reportedError has already been shown to the user
type reportedError struct {
	err error
}

func (r reportedError) Error() string { return r.err.Error() }
func (r reportedError) Unwrap() error { return r.err }

// fail prints err and returns it so the command exits non-zero
func (o *globalOptions) fail(msg string, err error) error {
	o.printer.Error(msg, err)
	return reportedError{fmt.Errorf("%s: %w", msg, err)}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "igautomate %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", gitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:   %s\n", buildDate)
			fmt.Fprintf(cmd.OutOrStdout(), "  go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

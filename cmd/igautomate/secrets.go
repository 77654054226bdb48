package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igautomate/pkg/secrets"
)

func newSecretsCmd(g *globalOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage stored secrets such as the store DSN",
		Long: `Manage named secrets referenced by store.dsn_secret.

Secrets are looked up in order:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (IGAUTOMATE_SECRET_<NAME>)

The encrypted file's passphrase is read from IGAUTOMATE_PASSPHRASE or a
generated .passphrase file next to it.`,
	}
	cmd.PersistentFlags().StringVar(&dir, "secrets-dir", "", "directory of the encrypted secrets file (default: user config dir)")

	open := func() (*secrets.Manager, error) {
		mgr, err := secrets.NewManager(dir)
		if err != nil {
			return nil, g.fail("Failed to open secret stores", err)
		}
		return mgr, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <name>",
			Short: "Store a secret, reading the value without echo",
			Example: `  igautomate secrets set store-dsn
  echo "$DSN" | igautomate secrets set store-dsn`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := open()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Value for %s: ", args[0])
				value, err := readSecret(cmd.InOrStdin())
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return g.fail("Failed to read value", err)
				}
				where, err := mgr.Set(args[0], value)
				if err != nil {
					return g.fail("Failed to store secret", err)
				}
				g.printer.Success(fmt.Sprintf("Stored %s in %s", args[0], where))
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <name>",
			Short: "Show a masked secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := open()
				if err != nil {
					return err
				}
				v, err := mgr.Get(args[0])
				if err != nil {
					return g.fail("Failed to read secret", err)
				}
				g.printer.Info(args[0], secrets.Mask(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove a secret from every writable store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := open()
				if err != nil {
					return err
				}
				if err := mgr.Delete(args[0]); err != nil {
					return g.fail("Failed to delete secret", err)
				}
				g.printer.Success("Deleted " + args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List secret names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := open()
				if err != nil {
					return err
				}
				names, err := mgr.List()
				if err != nil {
					return g.fail("Failed to list secrets", err)
				}
				if len(names) == 0 {
					g.printer.Warning("No secrets stored")
					return nil
				}
				g.printer.Highlight(fmt.Sprintf("Secrets (%s)", strings.Join(mgr.Stores(), ", ")))
				g.printer.List(names)
				return nil
			},
		},
	)
	return cmd
}

// readSecret reads one line from in, without echo when in is a terminal
func readSecret(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

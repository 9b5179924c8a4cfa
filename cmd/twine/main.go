package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/odvcencio/twine/pkg/config"
	"github.com/odvcencio/twine/pkg/inventory"
	"github.com/odvcencio/twine/pkg/object"
	"github.com/spf13/cobra"
)

const version = "twine 0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "twine",
		Short:         "Tamper-evident twist chains hitched to relays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "twine.toml", "path to the TOML configuration file")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newNewCmd())
	root.AddCommand(newAppendCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newHoistCmd())
	root.AddCommand(newRelayCmd())
	root.AddCommand(newInventoryCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// loadConfig reads the file named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return cfg.Log.NewLogger(cmd.ErrOrStderr())
}

// openInventory accepts a gocloud blob URL or a plain directory.
func openInventory(ctx context.Context, location string, reg *object.Registry) (*inventory.Inventory, error) {
	if strings.Contains(location, "://") {
		return inventory.Open(ctx, location, reg)
	}
	return inventory.OpenDir(location, reg)
}

// parseHashArg accepts a hex hash or a path to a twist file.
func parseHashArg(reg *object.Registry, arg string) (object.Hash, error) {
	if h, err := reg.ParseHex(strings.TrimSuffix(arg, ".toda")); err == nil {
		return h, nil
	}
	atoms, err := reg.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("%q is neither a hash nor a twist file: %w", arg, err)
	}
	return atoms.Focus(), nil
}

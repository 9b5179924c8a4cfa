package main

import (
	"context"
	"fmt"

	"github.com/odvcencio/twine/pkg/inventory"
	"github.com/odvcencio/twine/pkg/object"
	"github.com/spf13/cobra"
)

func newInventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Manage the local twist inventory",
	}
	cmd.PersistentFlags().String("dir", "", "inventory location (default: config inventory)")
	cmd.AddCommand(newInventoryAddCmd())
	cmd.AddCommand(newInventoryListCmd())
	cmd.AddCommand(newInventoryMoveCmd("archive", "Move superseded twists to the archive", (*inventory.Inventory).Archive))
	cmd.AddCommand(newInventoryMoveCmd("disown", "Move twists this key can no longer satisfy to unowned", (*inventory.Inventory).Disown))
	return cmd
}

// withInventory opens the inventory selected by --dir or the config.
func withInventory(cmd *cobra.Command, fn func(inv *inventory.Inventory, reg *object.Registry) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	location, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}
	if location == "" {
		location = cfg.Inventory
	}
	reg := object.NewRegistry()
	inv, err := openInventory(cmd.Context(), location, reg)
	if err != nil {
		return err
	}
	defer inv.Close()
	return fn(inv, reg)
}

func newInventoryAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <file.toda>...",
		Short: "Store twist files as owned twists",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInventory(cmd, func(inv *inventory.Inventory, reg *object.Registry) error {
				for _, path := range args {
					atoms, err := reg.ReadFile(path)
					if err != nil {
						return err
					}
					h, err := inv.Put(cmd.Context(), atoms)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", h.Hex())
				}
				return nil
			})
		},
	}
}

func newInventoryListCmd() *cobra.Command {
	var location string
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List twists by location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc := inventory.Location(location)
			switch loc {
			case inventory.Owned, inventory.Archived, inventory.Unowned:
			default:
				return fmt.Errorf("unknown location %q: want owned, archive or unowned", location)
			}
			return withInventory(cmd, func(inv *inventory.Inventory, reg *object.Registry) error {
				if rebuild {
					if _, err := inv.RebuildIndex(cmd.Context()); err != nil {
						return err
					}
				}
				hashes, err := inv.List(cmd.Context(), loc)
				if err != nil {
					return err
				}
				for _, h := range hashes {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", h.Hex())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", string(inventory.Owned), "owned, archive or unowned")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "rebuild the index before listing")
	return cmd
}

func newInventoryMoveCmd(use, short string, move func(*inventory.Inventory, context.Context, object.Hash) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <hash>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInventory(cmd, func(inv *inventory.Inventory, reg *object.Registry) error {
				for _, arg := range args {
					h, err := parseHashArg(reg, arg)
					if err != nil {
						return err
					}
					if err := move(inv, cmd.Context(), h); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

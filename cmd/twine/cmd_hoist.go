package main

import (
	"fmt"
	"path/filepath"

	"github.com/odvcencio/twine/pkg/config"
	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/relay"
	"github.com/odvcencio/twine/pkg/twist"
	"github.com/spf13/cobra"
)

func newHoistCmd() *cobra.Command {
	var relayURL string
	var write bool

	cmd := &cobra.Command{
		Use:   "hoist <file.toda>",
		Short: "Ask the relay to hoist the focus twist and wait for the commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if relayURL == "" {
				relayURL = cfg.Relay.URL
			}
			if relayURL == "" {
				return fmt.Errorf("no relay: pass --relay or set relay.url")
			}
			reg := object.NewRegistry()
			client, err := newRelayClient(relayURL, cfg, reg)
			if err != nil {
				return err
			}

			atoms, err := reg.ReadFile(args[0])
			if err != nil {
				return err
			}
			lead, err := twist.FromFocus(atoms)
			if err != nil {
				return err
			}
			line := twist.NewLine()
			hoist, err := client.HoistAndWait(cmd.Context(), line, lead)
			if err != nil {
				return err
			}
			newLogger(cmd, cfg).Info("hoisted", "lead", lead.Hash().Hex(), "hoist", hoist.Hash().Hex())

			if write {
				// Keep the relay proof next to the twist so it verifies offline.
				merged := line.Atoms().Clone()
				if err := merged.SetFocus(lead.Hash()); err != nil {
					return err
				}
				if err := object.WriteFile(filepath.Clean(args[0]), merged); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", hoist.Hash().Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay base URL (default: config relay.url)")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "store the fetched relay twists in the twist file")
	return cmd
}

func newRelayClient(url string, cfg *config.Config, reg *object.Registry) (*relay.Client, error) {
	topline, err := cfg.ToplineHash(reg)
	if err != nil {
		return nil, err
	}
	return relay.NewClientWithOptions(url, relay.ClientOptions{
		Timeout:      cfg.Client.Timeout,
		MaxAttempts:  cfg.Client.MaxAttempts,
		PollAttempts: cfg.Client.PollAttempts,
		PollDelay:    cfg.Client.PollDelay,
		Registry:     reg,
		Topline:      topline,
	})
}

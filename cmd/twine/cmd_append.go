package main

import (
	"crypto/rand"
	"fmt"
	"path/filepath"

	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/reqsat"
	"github.com/odvcencio/twine/pkg/twist"
	"github.com/spf13/cobra"
)

const shieldSize = 32

func newNewCmd() *cobra.Command {
	var keyPath, note, outDir string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a genesis twist owned by an SSH key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			alg, err := cfg.Algorithm(object.NewRegistry())
			if err != nil {
				return err
			}
			signer, _, err := loadSSHSigner(keyPath)
			if err != nil {
				return err
			}

			b := twist.NewBuilder(alg)
			if note != "" {
				b.SetNote(note)
			}
			reqsat.Require(b, signer)
			t, err := b.Twist()
			if err != nil {
				return err
			}
			path, err := object.WriteFileIn(outDir, t.Atoms())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "SSH private key that owns the chain (default ~/.ssh/id_*)")
	cmd.Flags().StringVar(&note, "note", "", "note stored in the twist cargo")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory for the new twist file")
	return cmd
}

func newAppendCmd() *cobra.Command {
	var keyPath, note, tetherPath, outDir string

	cmd := &cobra.Command{
		Use:   "append <file.toda>",
		Short: "Append a signed successor to a twist file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := object.NewRegistry()
			atoms, err := reg.ReadFile(args[0])
			if err != nil {
				return err
			}
			tip, err := twist.FromFocus(atoms)
			if err != nil {
				return err
			}
			signer, _, err := loadSSHSigner(keyPath)
			if err != nil {
				return err
			}

			b := tip.CreateSuccessor()
			if note != "" {
				b.SetNote(note)
			}
			if tetherPath != "" {
				relayAtoms, err := reg.ReadFile(tetherPath)
				if err != nil {
					return fmt.Errorf("read tether: %w", err)
				}
				shield := make([]byte, shieldSize)
				if _, err := rand.Read(shield); err != nil {
					return err
				}
				b.SetTether(relayAtoms.Focus()).SetShield(shield).AddAtoms(relayAtoms)
			}
			reqsat.Require(b, signer)
			if err := reqsat.Satisfy(b, signer); err != nil {
				return err
			}
			t, err := b.Twist()
			if err != nil {
				return err
			}
			if err := reqsat.NewRegistry().VerifyLegit(tip, t); err != nil {
				return fmt.Errorf("key does not satisfy %s: %w", tip.Hash().Hex(), err)
			}

			dir := outDir
			if dir == "" {
				dir = filepath.Dir(args[0])
			}
			path, err := object.WriteFileIn(dir, t.Atoms())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "SSH private key satisfying the current twist (default ~/.ssh/id_*)")
	cmd.Flags().StringVar(&note, "note", "", "note stored in the twist cargo")
	cmd.Flags().StringVar(&tetherPath, "tether", "", "relay twist file to tether the new twist to")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory for the new twist file (default: next to the input)")
	return cmd
}

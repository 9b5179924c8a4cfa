package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/reqsat"
	"github.com/odvcencio/twine/pkg/twist"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var chain bool

	cmd := &cobra.Command{
		Use:   "inspect <file.toda>",
		Short: "Show the focus twist of a twist file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			atoms, err := object.NewRegistry().ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			reqs := reqsat.NewRegistry()
			if !chain {
				t, err := twist.FromFocus(atoms)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "atoms   %d packet(s)\n", atoms.Len())
				return printTwist(out, reqs, t)
			}

			line, err := twist.LineFromAtoms(atoms)
			if err != nil {
				return err
			}
			t, err := line.First(atoms.Focus())
			if err != nil {
				return err
			}
			for {
				if err := printTwist(out, reqs, t); err != nil {
					return err
				}
				if t.Hash() == atoms.Focus() {
					return nil
				}
				if t, err = line.Next(t.Hash()); err != nil {
					return err
				}
				fmt.Fprintln(out)
			}
		},
	}
	cmd.Flags().BoolVar(&chain, "chain", false, "show every known twist from the earliest to the focus")
	return cmd
}

func printTwist(w io.Writer, reqs *reqsat.Registry, t *twist.Twist) error {
	fmt.Fprintf(w, "twist   %s\n", t.Hash().Hex())
	if t.IsGenesis() {
		fmt.Fprintf(w, "prev    genesis\n")
	} else {
		fmt.Fprintf(w, "prev    %s\n", t.PrevHash().Hex())
	}
	if t.IsTethered() {
		fmt.Fprintf(w, "tether  %s\n", t.TetherHash().Hex())
	} else {
		fmt.Fprintf(w, "tether  loose\n")
	}
	if r := t.Reqs(); r.Len() > 0 {
		names := make([]string, 0, r.Len())
		for _, typ := range r.Keys() {
			if v, ok := reqs.Verifier(typ); ok {
				names = append(names, v.Name())
			} else {
				names = append(names, typ.Hex())
			}
		}
		fmt.Fprintf(w, "reqs    %s\n", strings.Join(names, ", "))
	}
	if n := t.Rigging().Len(); n > 0 {
		fmt.Fprintf(w, "rigging %d entries\n", n)
	}
	note, err := twist.ParseNote(t.Atoms(), t.Hash())
	if err != nil {
		return err
	}
	if note.Text != "" {
		fmt.Fprintf(w, "note    %q\n", note.Text)
	}
	return nil
}

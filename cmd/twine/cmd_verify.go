package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/odvcencio/twine/pkg/interp"
	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/reqsat"
	"github.com/odvcencio/twine/pkg/twist"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type verifyResult struct {
	hitches int
	open    int
	err     error
}

func newVerifyCmd() *cobra.Command {
	var toplineArg, startArg string
	var jobs int

	cmd := &cobra.Command{
		Use:   "verify <file.toda>...",
		Short: "Verify twist histories and their hitches up to the topline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			reg := object.NewRegistry()

			topline, err := cfg.ToplineHash(reg)
			if err != nil {
				return err
			}
			if toplineArg != "" {
				if topline, err = parseHashArg(reg, toplineArg); err != nil {
					return fmt.Errorf("topline: %w", err)
				}
			}
			start := object.Null
			if startArg != "" {
				if start, err = parseHashArg(reg, startArg); err != nil {
					return fmt.Errorf("start: %w", err)
				}
			}
			if jobs <= 0 {
				jobs = runtime.GOMAXPROCS(0)
			}

			reqs := reqsat.NewRegistry()
			results := make([]verifyResult, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(jobs)
			for i, path := range args {
				g.Go(func() error {
					atoms, err := reg.ReadFile(path)
					if err != nil {
						return err
					}
					results[i] = verifyFile(ctx, logger.With(slog.String("file", path)), reqs, atoms, topline, start)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			failed := 0
			out := cmd.OutOrStdout()
			for i, r := range results {
				if r.err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", args[i], r.err)
					continue
				}
				fmt.Fprintf(out, "ok   %s: %d hitch(es), %d open\n", args[i], r.hitches, r.open)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed verification", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&toplineArg, "topline", "", "trusted topline hash or twist file (default: config topline)")
	cmd.Flags().StringVar(&startArg, "start", "", "already trusted twist to verify from, as hash or file")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "files verified concurrently (default GOMAXPROCS)")
	return cmd
}

// verifyFile checks the focus twist of atoms. Each file gets its own line and
// interpreter, so files never share mutable state.
func verifyFile(ctx context.Context, logger *slog.Logger, reqs *reqsat.Registry, atoms *object.Atoms, topline, start object.Hash) verifyResult {
	if err := ctx.Err(); err != nil {
		return verifyResult{err: err}
	}
	line, err := twist.LineFromAtoms(atoms)
	if err != nil {
		return verifyResult{err: err}
	}
	in := interp.New(line, topline, reqs, interp.WithLogger(logger))
	if !topline.IsNull() {
		if err := in.VerifyTopline(); err != nil {
			return verifyResult{err: fmt.Errorf("topline: %w", err)}
		}
	}
	hitches, err := in.VerifyHitchLine(atoms.Focus(), start)
	if err != nil {
		return verifyResult{err: err}
	}
	r := verifyResult{hitches: len(hitches)}
	for _, h := range hitches {
		if h.Open() {
			r.open++
		}
	}
	return r
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odvcencio/twine/pkg/config"
	"github.com/odvcencio/twine/pkg/inventory"
	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/relay"
	"github.com/spf13/cobra"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
)

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay",
	}
	cmd.AddCommand(newRelayServeCmd())
	return cmd
}

func newRelayServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a relay line over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Relay.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, cleanup, err := openRelay(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ln, err := net.Listen("tcp", cfg.Relay.Listen)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s listening on %s\n", srv.Tip().Hash().Hex(), ln.Addr())
			return serveUntilDone(ctx, ln, srv)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: config relay.listen)")
	return cmd
}

// openRelay resumes the relay from its inventory, or starts a new relay line
// when the inventory owns no twist yet.
func openRelay(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*relay.Server, func(), error) {
	logger := newLogger(cmd, cfg)
	reg := object.NewRegistry()
	alg, err := cfg.Algorithm(reg)
	if err != nil {
		return nil, nil, err
	}
	inv, err := openInventory(ctx, cfg.Relay.Inventory, reg)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{inv.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("relay shutdown", slog.Any("error", err))
			}
		}
	}

	opts := relay.ServerOptions{
		Registry:  reg,
		Algorithm: alg,
		Inventory: inv,
		Logger:    logger,
	}
	if cfg.Relay.Key != "" {
		signer, path, err := loadSSHSigner(cfg.Relay.Key)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info("signing relay twists", slog.String("key", path))
		opts.Signer = signer
	}
	if cfg.Relay.Events != "" {
		topic, err := pubsub.OpenTopic(ctx, cfg.Relay.Events)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open events topic: %w", err)
		}
		closers = append(closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return topic.Shutdown(shutdownCtx)
		})
		opts.Events = topic
	}

	tip, err := resumeTip(ctx, inv)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	srv, err := relay.NewServer(ctx, tip, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return srv, cleanup, nil
}

func resumeTip(ctx context.Context, inv *inventory.Inventory) (*object.Atoms, error) {
	owned, err := inv.List(ctx, inventory.Owned)
	if err != nil {
		return nil, err
	}
	switch len(owned) {
	case 0:
		return nil, nil
	case 1:
		atoms, _, err := inv.Get(ctx, owned[0])
		return atoms, err
	default:
		return nil, fmt.Errorf("relay inventory owns %d twists, want one tip", len(owned))
	}
}

func serveUntilDone(ctx context.Context, ln net.Listener, h http.Handler) error {
	hs := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

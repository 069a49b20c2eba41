// cmd/jestblank/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/jestblank/internal/client"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/presence"
	"github.com/jason-s-yu/jestblank/internal/realtime"
	"github.com/spf13/cobra"
)

func newPlayCmd(f *flags) *cobra.Command {
	var noQR bool
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			term := newTerminal(cmd.OutOrStdout())
			term.showQR = !noQR
			s, err := f.openSession(ctx, client.WithEventHandler(term.render))
			if err != nil {
				return err
			}
			defer s.Close()
			term.client = s.client
			term.debug = s.cfg.Debug()
			return term.run(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "do not draw the join code as a QR code")
	return cmd
}

func newRelayCmd(f *flags) *cobra.Command {
	var addr string
	var origins []string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the realtime websocket protocol from the configured change feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := f.load()
			if err != nil {
				return err
			}
			if cfg.FeedBackend == "realtime" {
				// the relay is the realtime endpoint, it reads the broker behind it
				cfg.FeedBackend = "redis"
			}
			backend, err := client.OpenFeed(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			relay := realtime.NewRelay(backend.Feed, cfg.ProjectID, cfg.DatabaseID, logger,
				realtime.WithOriginPatterns(origins...))
			mux := http.NewServeMux()
			mux.Handle("/v1/realtime", relay.Handler())

			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Infof("Running on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("relay exited: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "allowed cross-origin host patterns")
	return cmd
}

func newSweepCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete or reset games nobody is playing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := f.load()
			if err != nil {
				return err
			}
			backend, err := client.OpenBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			gw := gateway.New(backend.Store, backend.Feed, gateway.WithLogger(logger))
			report, err := presence.NewReconciler(gw, cfg.Collections.Games, logger).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sweep: %s\n", report)
			return nil
		},
	}
}

func newMigrateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the documents table in PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := f.load()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != "postgres" {
				return fmt.Errorf("migrate needs the postgres store, got %q", cfg.StoreBackend)
			}
			// the feed is irrelevant here
			cfg.FeedBackend = "memory"
			backend, err := client.OpenBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()
			if err := backend.Postgres.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("documents table ready")
			return nil
		},
	}
}

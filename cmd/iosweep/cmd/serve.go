package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iosweep/iosweep/internal/api"
	"github.com/iosweep/iosweep/internal/metrics"
	"github.com/iosweep/iosweep/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded sweeps over HTTP",
		Long: `Start the read-only results API backed by the sweep database.

Endpoints:
  GET /health, /ready, /metrics
  GET /api/v1/sweeps
  GET /api/v1/sweeps/:id
  GET /api/v1/sweeps/:id/rows[?format=csv]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("host") {
				host = a.cfg.API.Host
			}
			if !cmd.Flags().Changed("port") {
				port = a.cfg.API.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var reader api.SweepReader
			if a.cfg.Database.Path != "" {
				db, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer db.Close()

				store := storage.NewSweepStore(db)
				count, err := store.Count(ctx)
				if err != nil {
					return err
				}
				metrics.InitializeStoredSweeps(ctx, count)
				reader = store
			} else {
				a.logger.Warn("no sweep database configured, only health and metrics endpoints are served")
			}

			server := api.New(reader,
				api.WithLogger(a.logger),
				api.WithHost(host),
				api.WithPort(port))

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()
			server.SetReady(true)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down...")
			server.SetReady(false)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", slog.String("error", err.Error()))
				return err
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen address (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}

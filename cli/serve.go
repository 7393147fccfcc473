package cli

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

	"github.com/warp/delivery-tracker/api"
	"github.com/warp/delivery-tracker/cleanup"
	"github.com/warp/delivery-tracker/engine"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Starts the HTTP API together with the periodic refresher and the
nightly cleanup scheduler.

On SIGINT/SIGTERM the server stops accepting connections, waits for active
requests (30s), stops the background workers and closes all stores.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.start(ctx); err != nil {
		return err
	}

	refresher := engine.NewRefresher(a.engine, a.cfg.Refresh.Interval)
	refresher.Start()
	defer refresher.Stop()

	svc := cleanup.New(a.engine, a.cfg.Cleanup.Hour)
	scheduler := cleanup.NewScheduler(svc)
	scheduler.Enabled = a.cfg.Cleanup.Enabled
	scheduler.CheckInterval = a.cfg.Cleanup.CheckInterval
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(a.engine, svc)
	handler.Refresher = refresher

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           api.NewRouter(handler, a.cfg.CORS.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.cfg.Listen, "mode", a.engine.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

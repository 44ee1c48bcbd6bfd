package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/flsim/api"
	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = cobra.Command{
	Use:   "serve [telemetry-file]",
	Short: "Serve recorded rounds over HTTP",
	Long: "Load a telemetry file and serve it over a read-only HTTP API together with\n" +
		"/health and Prometheus /metrics.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Telemetry.Path
		if len(args) == 1 {
			path = args[0]
		}
		format, err := telemetry.ParseFormat(config.Telemetry.Format)
		if err != nil {
			return err
		}

		records, err := telemetry.ReadFile(path, format)
		if err != nil {
			return err
		}

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = config.HTTP.Addr
		}

		store := telemetry.NewMemory(records...)
		return serve(cmd.Context(), addr, api.MakeHandler(store, uuid.NewString()), logger)
	},
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", slog.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("HTTP API stopped")

	return nil
}

func NewServeCmd() *cobra.Command {
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (defaults to http.addr)")

	return &serveCmd
}

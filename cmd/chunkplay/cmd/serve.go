package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	internalhttp "github.com/jmylchreest/chunkplay/internal/http"
	"github.com/jmylchreest/chunkplay/internal/http/handlers"
	"github.com/jmylchreest/chunkplay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playback control API",
	Long: `Start the HTTP control API in front of the built-in playback engine.

The server provides:
- POST /api/v1/playback/load, play, pause, stop, reset and advance
- GET /api/v1/playback/status
- GET /api/v1/backend/circuit and POST /api/v1/backend/circuit/reset
- GET /health and /livez
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "host to bind to")
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, logger, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := rt.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", slog.String("error", err.Error()))
		}
	}()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	handlers.NewPlaybackHandler(rt.controller).Register(server.API())
	handlers.NewCircuitBreakerHandler(rt.backend).Register(server.API())
	handlers.NewHealthHandler(version.Version).
		WithBackendBreaker(rt.backend.CircuitStats).
		WithPlaybackState(func() string { return rt.controller.State().String() }).
		Register(server.API())

	logger.Info("chunkplay ready",
		slog.String("version", version.Short()),
		slog.String("address", cfg.Server.Address()),
		slog.String("backend", cfg.Backend.BaseURL),
	)

	err = server.ListenAndServe(ctx)
	rt.controller.Reset()
	if err != nil {
		return fmt.Errorf("running server: %w", err)
	}
	return nil
}

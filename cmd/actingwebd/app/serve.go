package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/actingweb/aw/pkg/config"
	"github.com/actingweb/aw/pkg/handlers"
	"github.com/actingweb/aw/pkg/logger"
)

const shutdownGracePeriod = 10 * time.Second

// newServeCmd builds the "serve" subcommand: load configuration, wire
// the composition root, and run the HTTP server until an interrupt or
// terminate signal arrives. Grounded on the teacher's
// cmd/thv/app/mcp_serve.go signal-handling shape (signal.NotifyContext
// plus a bounded-grace http.Server.Shutdown).
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ActingWeb HTTP server",
		Long: `serve loads configuration from ACTINGWEB_-prefixed environment variables,
opens the configured storage backend, wires every subsystem (trust,
subscriptions, fan-out, callbacks, access control, OAuth2 server) and
listens for the ActingWeb wire protocol until interrupted.`,
		RunE: serveCmdFunc,
	}
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	deps, err := handlers.NewDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := deps.Store.Close(); cerr != nil {
			logger.Warnf("closing storage backend: %v", cerr)
		}
	}()

	router := handlers.NewRouter(deps)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("actingwebd listening", "addr", cfg.ListenAddr, "backend", string(cfg.DatabaseBackend))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("actingwebd shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

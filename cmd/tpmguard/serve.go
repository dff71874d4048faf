package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omarluq/tpmguard/internal/di"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tpmguard admin server",
	Long: `Start the admin server that exposes bucket and quota state, health and
Prometheus metrics. The config file is watched and quota changes are applied
to buckets created after the reload.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, configPath())
}

// serve runs the admin server until ctx is done, then shuts the container down.
func serve(ctx context.Context, path string) error {
	container, err := di.NewContainer(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to load config")
		return err
	}

	di.MustInvoke[*di.LoggerService](container).Install()

	if err := container.HealthCheck(); err != nil {
		log.Error().Err(err).Msg("service initialization failed")
		shutdownQuietly(container)
		return err
	}

	cfgSvc := di.MustInvoke[*di.ConfigService](container)
	srv := di.MustInvoke[*di.ServerService](container).Server

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	cfgSvc.StartWatching(watchCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("listen", srv.Addr()).Str("config", cfgSvc.Path()).Msg("starting tpmguard")

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
		shutdownQuietly(container)
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := container.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		return err
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("server: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

func shutdownQuietly(container *di.Container) {
	if err := container.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("container shutdown")
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info().Msg("🧭 DevopsMate starting...")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx)
		if err != nil {
			return fmt.Errorf("initialize server: %w", err)
		}
		applyLogLevel(srv.Config.LogLevel)

		bgCtx, cancelBackground := context.WithCancel(context.Background())
		srv.Start(bgCtx)

		httpServer := &http.Server{
			Addr:         fmt.Sprintf(":%d", srv.Port),
			Handler:      srv.Handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Int("port", srv.Port).Str("version", srv.Config.Version).Msg("🚀 DevopsMate is ready")
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		var serveErr error
		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 Shutting down gracefully...")
		case serveErr = <-errCh:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		cancelBackground()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
		return serveErr
	},
}

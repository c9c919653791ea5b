package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"funneltrace/api/funnel"
	"funneltrace/api/handlers"
	"funneltrace/api/ingest"
	"funneltrace/api/logger"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.WithComponent("server")

		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		engine := funnel.NewEngine(b.events, b.funnels)
		timeout := cfg.Server.RequestTimeout
		r := handlers.NewRouter(cfg.Server.CORSOrigins, handlers.Handlers{
			Track:  handlers.NewTrackHandlers(ingest.NewService(b.events, b.sessions), timeout),
			Funnel: handlers.NewFunnelHandlers(engine, b.funnels, timeout),
			Stats:  handlers.NewStatsHandlers(b.stats, timeout),
			Health: handlers.NewHealthHandlers(b.checks),
		})

		srv := &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("port", cfg.Server.Port).Str("driver", cfg.Store.Driver).Msg("API server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case <-quit:
		}
		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}

		log.Info().Msg("Server exiting")
		return nil
	},
}

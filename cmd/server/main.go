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

	"github.com/crmorbit-ai/crm-v1-sub004/internal/app"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/config"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/logging"
	"github.com/crmorbit-ai/crm-v1-sub004/migrations"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migrations.Run(cfg.GetDatabaseURL()); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.CloseConnection(pool)

	application, err := app.New(cfg, pool, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}

	go func() {
		if _, err := application.Manager.StartAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("failed to start mailbox connections")
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           application.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("environment", cfg.Environment).Msg("mailsync starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	application.Manager.StopAll()
	log.Info().Msg("stopped")
}

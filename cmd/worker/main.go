package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"analyzer/internal/bootstrap"
	"analyzer/internal/infra"
	"analyzer/internal/reaper"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer rt.Close()

	r, err := reaper.New(rt.Service, cfg.ReaperInterval, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure reaper")
	}
	if err := r.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start reaper")
	}

	<-ctx.Done()
	if err := r.Stop(); err != nil {
		logger.Error().Err(err).Msg("worker: reaper shutdown failed")
	}
	logger.Info().Msg("worker: stopped")
}

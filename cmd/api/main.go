package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"analyzer/internal/bootstrap"
	"analyzer/internal/http/handlers"
	httpapi "analyzer/internal/http/httpapi"
	"analyzer/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger, bootstrap.Options{Providers: true, Migrate: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer rt.Close()

	app := handlers.NewApp(rt.Service, rt.Catalog, uploadLimit(cfg), logger)
	app.Ping = rt.Ping

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("store", cfg.StoreBackend).
			Str("extraction", cfg.ExtractionProvider).
			Str("analysis", cfg.AnalysisProvider).
			Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// uploadLimit leaves headroom over the image bytes for multipart framing and
// form fields.
func uploadLimit(cfg *infra.Config) int64 {
	return int64(cfg.MaxImagesPerRequest)*cfg.MaxImageBytes + 1<<20
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"evidencia/internal/app"
	"evidencia/internal/config"
	"evidencia/internal/infra/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("EVIDENCIA_CONFIG"))
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init service")
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited")
		_ = a.Close()
		os.Exit(1)
	}
}

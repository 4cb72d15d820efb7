package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"pairchat/backend/internal/app"
	"pairchat/backend/internal/config"
	"syscall"

	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Pairchat backend stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	log.Info("Starting pairchat backend...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("Failed to release resources", "err", err)
		}
	}()

	return a.Run(ctx)
}

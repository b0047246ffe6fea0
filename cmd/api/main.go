package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	apiconfig "crypify/internal/app/api/config"
	apiserver "crypify/internal/app/api/server"
	"crypify/internal/observability/logging"
)

func main() {
	cfg, err := apiconfig.Load()
	if err != nil {
		log.Fatalf("invalid api configuration: %v", err)
	}
	logger := logging.Setup("crypify-api", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := apiserver.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize api server: %v", err)
	}
	defer srv.Close()

	logger.Info("api listening", slog.String("port", cfg.Port))
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("api server stopped: %v", err)
	}
}

package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	consumerconfig "crypify/internal/app/consumer/config"
	consumerserver "crypify/internal/app/consumer/server"
	"crypify/internal/observability/logging"
)

func main() {
	cfg, err := consumerconfig.Load()
	if err != nil {
		log.Fatalf("invalid consumer configuration: %v", err)
	}
	logger := logging.Setup("crypify-consumer", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := consumerserver.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to init consumer: %v", err)
	}
	defer srv.Close()

	logger.Info("consumer listening", slog.String("topic", cfg.KafkaTopic))
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("consumer stopped: %v", err)
	}
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	consumerconfig "crypify/internal/app/consumer/config"
	"crypify/internal/db"
	"crypify/internal/domain/claim"
	messaging "crypify/internal/messaging/claim"
)

// Server hosts the claim audit consumer.
type Server struct {
	cfg      consumerconfig.Config
	logger   *slog.Logger
	store    *db.Store
	consumer *messaging.Consumer
	metrics  *http.Server
}

// New builds the consumer server and supporting dependencies.
func New(ctx context.Context, cfg consumerconfig.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := db.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}

	recorder := claim.NewRecorder(store, logger)
	claimConsumer, err := messaging.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopic, recorder, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		consumer: claimConsumer,
		metrics:  metricsSrv,
	}, nil
}

// Run consumes claim events until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if s.metrics != nil {
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("consumer metrics server stopped", slog.Any("error", err))
			}
		}()
		s.logger.Info("consumer metrics listening", slog.String("addr", s.cfg.MetricsAddr))
	}
	return s.consumer.Start(ctx)
}

// Close releases resources.
func (s *Server) Close() {
	if s.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(shutdownCtx)
	}
	if s.consumer != nil {
		_ = s.consumer.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

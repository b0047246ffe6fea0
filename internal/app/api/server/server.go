package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"crypify/internal/app/api/config"
	"crypify/internal/app/api/router"
	"crypify/internal/claimtoken"
	"crypify/internal/db"
	"crypify/internal/domain/claim"
	"crypify/internal/domain/purchase"
	"crypify/internal/evm"
	"crypify/internal/kafka"
	mailer "crypify/internal/mail"
	"crypify/internal/memstore"
	messaging "crypify/internal/messaging/claim"
	"crypify/internal/payout"
	redispkg "crypify/internal/redis"
)

// Server wires infrastructure dependencies for the API service.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	store      *db.Store
	redis      *redispkg.Client
	producer   *kafka.Producer
	chain      *ethclient.Client
	merchant   string
}

// New constructs the server and underlying dependencies.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (srv *Server, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger, merchant: cfg.MerchantAddress}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	codec, err := claimtoken.New([]byte(cfg.ClaimSecret))
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	if cfg.ClaimSetBackend == config.BackendPostgres || cfg.PurchaseBackend == config.BackendPostgres {
		if s.store, err = db.New(ctx, cfg.PostgresDSN); err != nil {
			return nil, err
		}
		if err = s.store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	purchaseStore, err := s.purchaseStore(ctx)
	if err != nil {
		return nil, err
	}
	claimedSet, err := s.claimedSet()
	if err != nil {
		return nil, err
	}
	sender, err := s.payoutSender()
	if err != nil {
		return nil, err
	}

	purchaseOpts := []purchase.Option{purchase.WithLogger(logger)}
	if cfg.VerifyPayments {
		client, err := s.dialChain()
		if err != nil {
			return nil, err
		}
		token, _ := evm.ParseAddress(cfg.USDCContract)
		merchant, _ := evm.ParseAddress(cfg.MerchantAddress)
		purchaseOpts = append(purchaseOpts, purchase.WithVerifier(evm.NewVerifier(client, token, merchant, cfg.USDCDecimals, cfg.Confirmations)))
	}
	purchases := purchase.NewService(purchaseStore, codec, s.newMailer(), purchase.Config{
		RewardRate:  cfg.RewardRate,
		ClaimTTL:    cfg.ClaimTTL,
		FrontendURL: cfg.FrontendURL,
	}, purchaseOpts...)

	publisher, err := s.publisher()
	if err != nil {
		return nil, err
	}
	claims := claim.NewService(codec, claimedSet, sender,
		claim.WithLogger(logger),
		claim.WithPurchases(purchases, cfg.RewardRate),
		claim.WithPublisher(publisher),
		claim.WithNetwork(cfg.PayoutNetwork),
		claim.WithPayoutTimeout(cfg.PayoutTimeout),
	)

	ginRouter := router.New(router.Dependencies{
		Claims:          claims,
		Purchases:       purchases,
		Logger:          logger,
		MerchantAddress: s.merchant,
		AdminToken:      cfg.AdminToken,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		TrustedProxies:  cfg.TrustedProxies,
		ClaimRateLimit:  cfg.ClaimRateLimit,
		ClaimRateBurst:  cfg.ClaimRateBurst,
	})
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           ginRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("api configured",
		slog.String("claimset_backend", cfg.ClaimSetBackend),
		slog.String("purchase_backend", cfg.PurchaseBackend),
		slog.String("payout_mode", cfg.PayoutMode),
		slog.Bool("kafka", cfg.KafkaEnabled),
		slog.Bool("verify_payments", cfg.VerifyPayments),
		slog.Bool("admin", cfg.AdminToken != ""),
	)
	return s, nil
}

func (s *Server) purchaseStore(ctx context.Context) (purchase.Store, error) {
	catalog := purchase.DefaultCatalog()
	if s.cfg.PurchaseBackend == config.BackendPostgres {
		if err := s.store.SeedStock(ctx, catalog.Stock()); err != nil {
			return nil, err
		}
		return s.store.Purchases(), nil
	}
	return memstore.NewPurchases(catalog.Stock()), nil
}

func (s *Server) claimedSet() (claim.ClaimedSet, error) {
	switch s.cfg.ClaimSetBackend {
	case config.BackendRedis:
		client, err := redispkg.New(s.cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		s.redis = client
		return client, nil
	case config.BackendPostgres:
		return s.store.Claims(), nil
	default:
		s.logger.Warn("claimed set is in memory; a restart makes settled claims payable again")
		return memstore.NewClaimedSet(), nil
	}
}

func (s *Server) payoutSender() (payout.Sender, error) {
	if s.cfg.PayoutMode != config.PayoutEVM {
		s.logger.Warn("payout sandbox enabled; no funds are transferred")
		return payout.NewSandbox(), nil
	}
	client, err := s.dialChain()
	if err != nil {
		return nil, err
	}
	token, err := evm.ParseAddress(s.cfg.USDCContract)
	if err != nil {
		return nil, err
	}
	wallet, err := evm.NewWallet(client, evm.WalletConfig{
		ChainID:    big.NewInt(s.cfg.EVMChainID),
		PrivateKey: s.cfg.EVMPrivateKey,
		Token:      token,
		Decimals:   s.cfg.USDCDecimals,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payout wallet loaded", slog.String("address", wallet.Address().Hex()))
	if s.merchant == "" {
		s.merchant = wallet.Address().Hex()
	}
	return wallet, nil
}

func (s *Server) dialChain() (*ethclient.Client, error) {
	if s.chain != nil {
		return s.chain, nil
	}
	client, err := evm.Dial(s.cfg.EVMRPCURL)
	if err != nil {
		return nil, err
	}
	s.chain = client
	return client, nil
}

func (s *Server) newMailer() mailer.Mailer {
	if !s.cfg.SMTPConfigured() {
		s.logger.Warn("smtp not configured; claim emails are logged only")
		return mailer.NewLogMailer(s.logger)
	}
	m, err := mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     s.cfg.SMTPHost,
		Port:     s.cfg.SMTPPort,
		Username: s.cfg.SMTPUser,
		Password: s.cfg.SMTPPass,
		From:     s.cfg.FromEmail,
	})
	if err != nil {
		s.logger.Error("smtp mailer unavailable; claim emails are logged only", slog.Any("error", err))
		return mailer.NewLogMailer(s.logger)
	}
	return m
}

func (s *Server) publisher() (claim.Publisher, error) {
	if !s.cfg.KafkaEnabled {
		return logPublisher{logger: s.logger}, nil
	}
	producer, err := kafka.NewProducer(s.cfg.KafkaBrokers, s.cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	s.producer = producer
	return messaging.NewPublisher(producer), nil
}

// logPublisher stands in for Kafka when it is disabled.
type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(ctx context.Context, e claim.Event) error {
	p.logger.InfoContext(ctx, "claim event",
		slog.String("event_id", e.EventID),
		slog.String("purchase_id", e.PurchaseID),
		slog.String("tx_hash", e.TransactionID),
	)
	return nil
}

// Run starts the HTTP server and blocks until ctx is canceled or fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases infrastructure resources.
func (s *Server) Close() {
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.producer != nil {
		_ = s.producer.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.chain != nil {
		s.chain.Close()
	}
}

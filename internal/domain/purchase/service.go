package purchase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypify/internal/claimtoken"
	"crypify/internal/domain/claim"
	mailer "crypify/internal/mail"
	"crypify/internal/observability/logging"
	"crypify/internal/observability/metrics"
)

var (
	// ErrNotFound indicates the purchase does not exist.
	ErrNotFound = errors.New("purchase not found")
	// ErrInvalidInput indicates missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid purchase input")
	// ErrInvalidSKU indicates the SKU is not in the catalog.
	ErrInvalidSKU = errors.New("invalid sku")
	// ErrInsufficientStock indicates the SKU cannot cover the quantity.
	ErrInsufficientStock = errors.New("insufficient inventory")
	// ErrEmailMismatch indicates the payer email differs from the purchase email.
	ErrEmailMismatch = errors.New("email mismatch")
	// ErrAlreadyPaid indicates the purchase was paid before.
	ErrAlreadyPaid = errors.New("already paid")
	// ErrPaymentUnverified indicates the payment transaction could not be confirmed.
	ErrPaymentUnverified = errors.New("payment not verified")
	// ErrPaymentAlreadyUsed indicates the payment transaction already confirmed another purchase.
	ErrPaymentAlreadyUsed = errors.New("payment transaction already used")
)

// Purchase is a storefront order.
type Purchase struct {
	ID        string
	SKU       string
	Qty       int
	Email     string
	TotalUSD  decimal.Decimal
	Paid      bool
	PaymentTx string
	RewardTx  string
	CreatedAt time.Time
	PaidAt    time.Time
}

// Store persists purchases and stock.
type Store interface {
	// ReserveStock atomically decrements stock, returning ErrInsufficientStock when it
	// cannot cover qty.
	ReserveStock(ctx context.Context, sku string, qty int) error
	ReleaseStock(ctx context.Context, sku string, qty int) error
	Insert(ctx context.Context, p Purchase) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Purchase, error)
	// MarkPaid flips the paid flag once, returning ErrAlreadyPaid on the second call. A
	// non-empty paymentTx may pay for one purchase only; reuse returns ErrPaymentAlreadyUsed.
	MarkPaid(ctx context.Context, id, paymentTx string, at time.Time) error
	SetRewardTx(ctx context.Context, id, txID string) error
}

// PaymentVerifier confirms a buyer's on-chain payment.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, txHash string, amount decimal.Decimal) error
}

// Config holds reward issuance settings.
type Config struct {
	RewardRate  decimal.Decimal
	ClaimTTL    time.Duration
	FrontendURL string
}

// CreateInput captures a purchase request.
type CreateInput struct {
	SKU   string
	Qty   int
	Email string
}

// ConfirmInput captures a payment confirmation.
type ConfirmInput struct {
	PurchaseID  string
	Email       string
	UserAddress string
	PaymentTx   string
}

// Confirmation is the outcome of a confirmed payment.
type Confirmation struct {
	Purchase   Purchase
	RewardUSD  string
	ClaimToken string
	ClaimURL   string
	ExpiresAt  time.Time
	EmailSent  bool
}

// Service runs the storefront side: purchases, payment confirmation and claim issuance.
type Service struct {
	store    Store
	codec    *claimtoken.Codec
	mailer   mailer.Mailer
	verifier PaymentVerifier
	catalog  Catalog
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option customises the service.
type Option func(*Service)

// WithVerifier requires on-chain confirmation of payments.
func WithVerifier(v PaymentVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithCatalog replaces the default catalog.
func WithCatalog(c Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires dependencies.
func NewService(store Store, codec *claimtoken.Codec, m mailer.Mailer, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:   store,
		codec:   codec,
		mailer:  m,
		catalog: DefaultCatalog(),
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ClaimTTL <= 0 {
		s.cfg.ClaimTTL = 24 * time.Hour
	}
	if s.cfg.RewardRate.IsZero() {
		s.cfg.RewardRate = decimal.RequireFromString("0.10")
	}
	return s
}

// Catalog returns the configured catalog.
func (s *Service) Catalog() Catalog { return s.catalog }

// Create validates the request, reserves stock and stores an unpaid purchase.
func (s *Service) Create(ctx context.Context, in CreateInput) (Purchase, error) {
	sku := strings.TrimSpace(in.SKU)
	email := strings.TrimSpace(in.Email)
	if sku == "" || email == "" || in.Qty <= 0 {
		return Purchase{}, fmt.Errorf("%w: sku, qty and email are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Purchase{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	item, ok := s.catalog[sku]
	if !ok {
		return Purchase{}, ErrInvalidSKU
	}
	if err := s.store.ReserveStock(ctx, sku, in.Qty); err != nil {
		return Purchase{}, err
	}
	now := s.now()
	id, err := newID(now)
	if err != nil {
		_ = s.store.ReleaseStock(ctx, sku, in.Qty)
		return Purchase{}, err
	}
	p := Purchase{
		ID:        id,
		SKU:       sku,
		Qty:       in.Qty,
		Email:     email,
		TotalUSD:  item.Price.Mul(decimal.NewFromInt(int64(in.Qty))),
		CreatedAt: now,
	}
	if err := s.store.Insert(ctx, p); err != nil {
		if rerr := s.store.ReleaseStock(ctx, sku, in.Qty); rerr != nil {
			s.logger.Error("release stock failed", slog.String("sku", sku), slog.Any("error", rerr))
		}
		return Purchase{}, err
	}
	metrics.RecordPurchaseEvent("created")
	s.logger.Info("purchase created", slog.String("purchase_id", id), slog.String("sku", sku), slog.Int("qty", in.Qty))
	return p, nil
}

// Get loads a purchase.
func (s *Service) Get(ctx context.Context, id string) (Purchase, error) {
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// ConfirmPayment marks the purchase paid, issues the reward claim token and emails the
// claim link.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmInput) (*Confirmation, error) {
	if strings.TrimSpace(in.PurchaseID) == "" || strings.TrimSpace(in.Email) == "" {
		return nil, fmt.Errorf("%w: purchaseId and email are required", ErrInvalidInput)
	}
	p, err := s.store.Get(ctx, strings.TrimSpace(in.PurchaseID))
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(p.Email, strings.TrimSpace(in.Email)) {
		return nil, ErrEmailMismatch
	}
	if p.Paid {
		return nil, ErrAlreadyPaid
	}
	paymentTx := strings.ToLower(strings.TrimSpace(in.PaymentTx))
	if s.verifier != nil {
		if paymentTx == "" {
			return nil, fmt.Errorf("%w: payment transaction required", ErrPaymentUnverified)
		}
		if err := s.verifier.VerifyPayment(ctx, paymentTx, p.TotalUSD); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPaymentUnverified, err)
		}
	}
	now := s.now()
	if err := s.store.MarkPaid(ctx, p.ID, paymentTx, now); err != nil {
		if errors.Is(err, ErrPaymentAlreadyUsed) {
			s.logger.Warn("payment tx reused", slog.String("purchase_id", p.ID), slog.String("payment_tx", paymentTx))
		}
		return nil, err
	}
	p.Paid = true
	p.PaymentTx = paymentTx
	p.PaidAt = now
	metrics.RecordPurchaseEvent("paid")

	reward := p.TotalUSD.Mul(s.cfg.RewardRate).Round(2)
	expiresAt := now.Add(s.cfg.ClaimTTL)
	token, err := s.codec.Encode(claimtoken.Payload{
		Email:       p.Email,
		UserAddress: strings.TrimSpace(in.UserAddress),
		PurchaseID:  p.ID,
		RewardUSD:   reward.StringFixed(2),
		ExpiresAt:   expiresAt.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	conf := &Confirmation{
		Purchase:   p,
		RewardUSD:  reward.StringFixed(2),
		ClaimToken: token,
		ClaimURL:   s.claimURL(token),
		ExpiresAt:  expiresAt,
	}

	msg, err := mailer.RenderClaimEmail(mailer.ClaimLink{
		To:         p.Email,
		PurchaseID: p.ID,
		SKU:        p.SKU,
		Qty:        p.Qty,
		TotalUSD:   p.TotalUSD.StringFixed(2),
		RewardUSD:  conf.RewardUSD,
		ClaimURL:   conf.ClaimURL,
		PaymentTx:  p.PaymentTx,
		ExpiresAt:  expiresAt,
	})
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.logger.Error("claim email failed", slog.String("purchase_id", p.ID), slog.String("to", logging.Email(p.Email)), slog.Any("error", err))
	} else {
		conf.EmailSent = true
	}
	s.logger.Info("payment confirmed", slog.String("purchase_id", p.ID), slog.String("reward_usd", conf.RewardUSD))
	return conf, nil
}

// PurchaseInfo implements claim.Purchases.
func (s *Service) PurchaseInfo(ctx context.Context, id string) (claim.PurchaseInfo, error) {
	p, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return claim.PurchaseInfo{}, fmt.Errorf("%w: %s", claim.ErrPurchaseNotFound, id)
	}
	if err != nil {
		return claim.PurchaseInfo{}, err
	}
	return claim.PurchaseInfo{ID: p.ID, Paid: p.Paid, TotalUSD: p.TotalUSD}, nil
}

// MarkRewardClaimed implements claim.Purchases.
func (s *Service) MarkRewardClaimed(ctx context.Context, id, txID string) error {
	return s.store.SetRewardTx(ctx, id, txID)
}

func (s *Service) claimURL(token string) string {
	base := strings.TrimRight(s.cfg.FrontendURL, "/")
	return base + "/claim?token=" + url.QueryEscape(token)
}

func newID(now time.Time) (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("PUR-%d-%s", now.UnixMilli(), hex.EncodeToString(buf[:])), nil
}

package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"crypify/internal/claimtoken"
	"crypify/internal/observability/logging"
	"crypify/internal/observability/metrics"
	"crypify/internal/payout"
)

const (
	defaultPayoutTimeout = 30 * time.Second
	defaultPollInterval  = 250 * time.Millisecond
)

// Receipt is returned for a settled claim. Replays return the stored receipt.
type Receipt struct {
	TransactionID string
	Amount        string
	Recipient     string
	Email         string
	PurchaseID    string
	ClaimedAt     time.Time
}

// Service turns a verified, unexpired claim token into exactly one payout.
type Service struct {
	codec      *claimtoken.Codec
	claims     ClaimedSet
	sender     payout.Sender
	purchases  Purchases
	rewardRate decimal.Decimal
	publisher  Publisher
	logger     *slog.Logger

	network       string
	payoutTimeout time.Duration
	waitTimeout   time.Duration
	pollInterval  time.Duration

	group singleflight.Group
}

// Option customises the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPurchases enables purchase checks: the purchase must exist and be paid, and the
// signed reward may not exceed total*rate.
func WithPurchases(p Purchases, rate decimal.Decimal) Option {
	return func(s *Service) {
		s.purchases = p
		s.rewardRate = rate
	}
}

// WithPublisher announces settled claims.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithNetwork sets the network passed to the payout sender.
func WithNetwork(network string) Option {
	return func(s *Service) { s.network = network }
}

// WithPayoutTimeout bounds a single payout call.
func WithPayoutTimeout(d time.Duration) Option {
	return func(s *Service) { s.payoutTimeout = d }
}

// WithWaitTimeout bounds how long a caller waits on a claim held elsewhere.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Service) { s.waitTimeout = d }
}

// WithPollInterval sets the claimed-set polling cadence used while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) { s.pollInterval = d }
}

// NewService wires dependencies.
func NewService(codec *claimtoken.Codec, claims ClaimedSet, sender payout.Sender, opts ...Option) *Service {
	s := &Service{
		codec:         codec,
		claims:        claims,
		sender:        sender,
		network:       "base-sepolia",
		payoutTimeout: defaultPayoutTimeout,
		pollInterval:  defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.payoutTimeout <= 0 {
		s.payoutTimeout = defaultPayoutTimeout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.waitTimeout <= 0 {
		s.waitTimeout = s.payoutTimeout + 5*time.Second
	}
	return s
}

// Claim validates the token and pays its reward once. Repeated and concurrent calls for
// the same token return the receipt of the single payout.
func (s *Service) Claim(ctx context.Context, token, resolvedAddress string, now time.Time) (*Receipt, error) {
	receipt, err := s.claim(ctx, token, resolvedAddress, now)
	metrics.RecordClaimOutcome(outcome(err))
	return receipt, err
}

func (s *Service) claim(ctx context.Context, token, resolvedAddress string, now time.Time) (*Receipt, error) {
	p, err := s.codec.Decode(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	recipient := strings.TrimSpace(resolvedAddress)
	if recipient == "" {
		recipient = strings.TrimSpace(p.UserAddress)
	}
	if recipient == "" {
		return nil, ErrNoRecipient
	}
	if now.UnixMilli() > p.ExpiresAt {
		return nil, ErrExpired
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(p.RewardUSD))
	if err != nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: reward %q", ErrInvalidToken, p.RewardUSD)
	}
	if err := s.checkPurchase(ctx, p.PurchaseID, amount); err != nil {
		return nil, err
	}

	rec := Record{
		TokenHash:  claimtoken.Hash(token),
		PurchaseID: p.PurchaseID,
		Email:      p.Email,
		Recipient:  recipient,
		Amount:     strings.TrimSpace(p.RewardUSD),
		Status:     StatusPending,
		ReservedAt: now,
		ExpiresAt:  time.UnixMilli(p.ExpiresAt),
	}
	// The payout must not be abandoned halfway because one caller went away; the
	// payout and wait timeouts bound the work instead.
	detached := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(rec.TokenHash, func() (any, error) {
		return s.claimOnce(detached, rec, amount)
	})
	if err != nil {
		return nil, err
	}
	receipt := *v.(*Receipt)
	return &receipt, nil
}

func (s *Service) checkPurchase(ctx context.Context, purchaseID string, amount decimal.Decimal) error {
	if s.purchases == nil {
		return nil
	}
	info, err := s.purchases.PurchaseInfo(ctx, purchaseID)
	if errors.Is(err, ErrPurchaseNotFound) {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if err != nil {
		return fmt.Errorf("claim: load purchase: %w", err)
	}
	if !info.Paid {
		return fmt.Errorf("%w: purchase %s not paid", ErrInvalidToken, purchaseID)
	}
	limit := info.TotalUSD.Mul(s.rewardRate).Round(2)
	if amount.GreaterThan(limit) {
		return fmt.Errorf("%w: reward %s exceeds %s", ErrInvalidToken, amount, limit)
	}
	return nil
}

func (s *Service) claimOnce(ctx context.Context, rec Record, amount decimal.Decimal) (*Receipt, error) {
	for {
		existing, reserved, err := s.claims.Reserve(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("claim: reserve: %w", err)
		}
		if reserved {
			return s.pay(ctx, rec, amount)
		}
		switch existing.Status {
		case StatusClaimed:
			return receiptFrom(existing), nil
		case StatusUnknown:
			return nil, &PayoutError{Cause: ErrOutcomeUnknown}
		}
		receipt, err := s.awaitSettled(ctx, rec.TokenHash)
		if err != nil || receipt != nil {
			return receipt, err
		}
		// The holder released the claim after a failed payout; try to take it.
	}
}

// awaitSettled polls a pending record held by another caller. A nil receipt with a nil
// error means the record was released.
func (s *Service) awaitSettled(ctx context.Context, tokenHash string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ErrClaimInProgress
		case <-ticker.C:
		}
		rec, err := s.claims.Get(ctx, tokenHash)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return nil, nil
		case err != nil:
			if ctx.Err() != nil {
				return nil, ErrClaimInProgress
			}
			return nil, fmt.Errorf("claim: poll: %w", err)
		}
		switch rec.Status {
		case StatusClaimed:
			return receiptFrom(rec), nil
		case StatusUnknown:
			return nil, &PayoutError{Cause: ErrOutcomeUnknown}
		}
	}
}

func (s *Service) pay(ctx context.Context, rec Record, amount decimal.Decimal) (*Receipt, error) {
	log := s.logger.With(
		slog.String("purchase_id", rec.PurchaseID),
		slog.String("recipient", logging.Address(rec.Recipient)),
		slog.String("amount", rec.Amount),
	)

	payCtx, cancel := context.WithTimeout(ctx, s.payoutTimeout)
	start := time.Now()
	txID, err := s.sender.Send(payCtx, payout.Request{
		To:        rec.Recipient,
		Amount:    amount,
		Asset:     payout.AssetUSDC,
		Network:   s.network,
		Reference: rec.TokenHash,
	})
	ambiguous := payCtx.Err() != nil
	cancel()

	if err != nil {
		if ambiguous {
			metrics.ObservePayout("timeout", time.Since(start))
			if merr := s.claims.MarkUnknown(ctx, rec.TokenHash); merr != nil {
				log.Error("mark claim unknown failed", slog.Any("error", merr))
			}
			log.Error("payout outcome unknown", slog.Any("error", err))
			return nil, &PayoutError{Cause: fmt.Errorf("%w: %v", ErrPayoutTimeout, err)}
		}
		metrics.ObservePayout("error", time.Since(start))
		if rerr := s.claims.Release(ctx, rec.TokenHash); rerr != nil {
			log.Error("release claim failed", slog.Any("error", rerr))
		}
		log.Warn("payout failed", slog.Any("error", err))
		return nil, &PayoutError{Cause: err}
	}
	metrics.ObservePayout("ok", time.Since(start))

	stored, err := s.claims.Complete(ctx, rec.TokenHash, txID, rec.ReservedAt)
	if err != nil {
		// The transfer went out; report it and leave the pending record for reconciliation.
		log.Error("payout sent but claim not recorded", slog.String("tx_hash", txID), slog.Any("error", err))
		stored = rec
		stored.Status = StatusClaimed
		stored.TransactionID = txID
		stored.ClaimedAt = rec.ReservedAt
	}
	log.Info("reward claimed", slog.String("tx_hash", stored.TransactionID))
	s.afterClaim(ctx, stored)
	return receiptFrom(stored), nil
}

func (s *Service) afterClaim(ctx context.Context, rec Record) {
	if s.purchases != nil && rec.PurchaseID != "" {
		if err := s.purchases.MarkRewardClaimed(ctx, rec.PurchaseID, rec.TransactionID); err != nil {
			s.logger.Warn("mark purchase reward failed", slog.String("purchase_id", rec.PurchaseID), slog.Any("error", err))
		}
	}
	if s.publisher == nil {
		return
	}
	event := Event{
		EventID:       uuid.NewString(),
		TokenHash:     rec.TokenHash,
		PurchaseID:    rec.PurchaseID,
		Email:         rec.Email,
		Recipient:     rec.Recipient,
		Amount:        rec.Amount,
		Asset:         payout.AssetUSDC,
		Network:       s.network,
		TransactionID: rec.TransactionID,
		Timestamp:     rec.ClaimedAt.UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish claim event failed", slog.String("purchase_id", rec.PurchaseID), slog.Any("error", err))
	}
}

// Lookup returns the claimed-set record for a token hash.
func (s *Service) Lookup(ctx context.Context, tokenHash string) (Record, error) {
	return s.claims.Get(ctx, tokenHash)
}

// Resolve settles a pending or unknown claim with a transaction an operator confirmed
// on-chain.
func (s *Service) Resolve(ctx context.Context, tokenHash, txID string, now time.Time) (*Receipt, error) {
	if strings.TrimSpace(txID) == "" {
		return nil, errors.New("claim: transaction id required")
	}
	rec, err := s.claims.Get(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusClaimed {
		return receiptFrom(rec), ErrAlreadyClaimed
	}
	stored, err := s.claims.Complete(ctx, tokenHash, txID, now)
	if err != nil {
		return nil, err
	}
	s.logger.Info("claim resolved by operator", slog.String("purchase_id", stored.PurchaseID), slog.String("tx_hash", txID))
	s.afterClaim(ctx, stored)
	return receiptFrom(stored), nil
}

// Release drops a pending or unknown claim an operator confirmed never paid out, making
// the token claimable again.
func (s *Service) Release(ctx context.Context, tokenHash string) error {
	rec, err := s.claims.Get(ctx, tokenHash)
	if err != nil {
		return err
	}
	if rec.Status == StatusClaimed {
		return ErrAlreadyClaimed
	}
	if err := s.claims.Release(ctx, tokenHash); err != nil {
		return err
	}
	s.logger.Info("claim released by operator", slog.String("purchase_id", rec.PurchaseID))
	return nil
}

func receiptFrom(rec Record) *Receipt {
	return &Receipt{
		TransactionID: rec.TransactionID,
		Amount:        rec.Amount,
		Recipient:     rec.Recipient,
		Email:         rec.Email,
		PurchaseID:    rec.PurchaseID,
		ClaimedAt:     rec.ClaimedAt,
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "claimed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNoRecipient):
		return "no_recipient"
	case errors.Is(err, ErrClaimInProgress):
		return "in_progress"
	case errors.Is(err, ErrPayoutTimeout), errors.Is(err, ErrOutcomeUnknown):
		return "unknown"
	case errors.Is(err, ErrPayoutFailed):
		return "payout_failed"
	default:
		return "error"
	}
}

package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"crypify/internal/domain/purchase"
	"crypify/internal/observability/metrics"
)

const uniqueViolation = "23505"

// PurchaseStore implements purchase.Store on the purchases and stock tables.
type PurchaseStore struct {
	pool Pool
}

// Purchases returns the purchase view of the store.
func (s *Store) Purchases() *PurchaseStore {
	return &PurchaseStore{pool: s.pool}
}

// ReserveStock implements purchase.Store.
func (p *PurchaseStore) ReserveStock(ctx context.Context, sku string, qty int) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("reserve_stock", time.Since(start)) }()
	tag, err := p.pool.Exec(ctx, `
        UPDATE stock SET available = available - $2
        WHERE sku = $1 AND available >= $2
    `, sku, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock WHERE sku = $1)`, sku).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return purchase.ErrInvalidSKU
	}
	return purchase.ErrInsufficientStock
}

// ReleaseStock implements purchase.Store.
func (p *PurchaseStore) ReleaseStock(ctx context.Context, sku string, qty int) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("release_stock", time.Since(start)) }()
	_, err := p.pool.Exec(ctx, `UPDATE stock SET available = available + $2 WHERE sku = $1`, sku, qty)
	return err
}

// Insert implements purchase.Store.
func (p *PurchaseStore) Insert(ctx context.Context, pur purchase.Purchase) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("insert_purchase", time.Since(start)) }()
	_, err := p.pool.Exec(ctx, `
        INSERT INTO purchases (id, sku, qty, email, total_usd, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, pur.ID, pur.SKU, pur.Qty, pur.Email, pur.TotalUSD, pur.CreatedAt)
	return err
}

// Get implements purchase.Store.
func (p *PurchaseStore) Get(ctx context.Context, id string) (purchase.Purchase, error) {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("get_purchase", time.Since(start)) }()
	var (
		pur    purchase.Purchase
		total  decimal.Decimal
		paidAt pgtype.Timestamptz
	)
	err := p.pool.QueryRow(ctx, `
        SELECT id, sku, qty, email, total_usd, paid, payment_tx, reward_tx, created_at, paid_at
        FROM purchases
        WHERE id = $1
    `, id).Scan(&pur.ID, &pur.SKU, &pur.Qty, &pur.Email, &total, &pur.Paid, &pur.PaymentTx, &pur.RewardTx, &pur.CreatedAt, &paidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return purchase.Purchase{}, purchase.ErrNotFound
	}
	if err != nil {
		return purchase.Purchase{}, err
	}
	pur.TotalUSD = total
	if paidAt.Valid {
		pur.PaidAt = paidAt.Time
	}
	return pur, nil
}

// MarkPaid implements purchase.Store.
func (p *PurchaseStore) MarkPaid(ctx context.Context, id, paymentTx string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("mark_paid", time.Since(start)) }()
	tag, err := p.pool.Exec(ctx, `
        UPDATE purchases SET paid = TRUE, payment_tx = $2, paid_at = $3
        WHERE id = $1 AND NOT paid
    `, id, paymentTx, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return purchase.ErrPaymentAlreadyUsed
		}
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := p.Get(ctx, id); err != nil {
		return err
	}
	return purchase.ErrAlreadyPaid
}

// SetRewardTx implements purchase.Store.
func (p *PurchaseStore) SetRewardTx(ctx context.Context, id, txID string) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("set_reward_tx", time.Since(start)) }()
	tag, err := p.pool.Exec(ctx, `UPDATE purchases SET reward_tx = $2 WHERE id = $1`, id, txID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return purchase.ErrNotFound
	}
	return nil
}

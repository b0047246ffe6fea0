package db

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crypify/internal/domain/claim"
	"crypify/internal/observability/metrics"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store wraps a pgx connection pool and exposes typed helpers.
type Store struct {
	pool Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool Pool) *Store {
	return &Store{pool: pool}
}

// Close releases underlying connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema guarantees required tables exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("ensure_schema", time.Since(start)) }()
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// SeedStock inserts initial stock rows, leaving existing rows untouched.
func (s *Store) SeedStock(ctx context.Context, stock map[string]int) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("seed_stock", time.Since(start)) }()
	skus := make([]string, 0, len(stock))
	for sku := range stock {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		for _, sku := range skus {
			if _, err := tx.Exec(ctx, `
                INSERT INTO stock (sku, available) VALUES ($1, $2)
                ON CONFLICT (sku) DO NOTHING
            `, sku, stock[sku]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunInTx executes fn within a transaction boundary.
func (s *Store) RunInTx(ctx context.Context, fn func(pgx.Tx) error) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("run_in_tx", time.Since(start)) }()
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// InsertClaimLog stores a settled claim event for auditing. Redelivered events are
// ignored.
func (s *Store) InsertClaimLog(ctx context.Context, event claim.Event) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("insert_claim_log", time.Since(start)) }()
	_, err := s.pool.Exec(ctx, `
        INSERT INTO claim_log (event_id, token_hash, purchase_id, email, recipient, amount, asset, network, tx_hash, claimed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (token_hash) DO NOTHING
    `, event.EventID, event.TokenHash, event.PurchaseID, event.Email, event.Recipient,
		event.Amount, event.Asset, event.Network, event.TransactionID, event.Timestamp)
	return err
}

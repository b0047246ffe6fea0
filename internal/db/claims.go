package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"crypify/internal/domain/claim"
	"crypify/internal/observability/metrics"
)

// ClaimStore implements claim.ClaimedSet on the reward_claims table.
type ClaimStore struct {
	pool Pool
}

// Claims returns the claimed-set view of the store.
func (s *Store) Claims() *ClaimStore {
	return &ClaimStore{pool: s.pool}
}

const selectClaim = `
    SELECT token_hash, purchase_id, email, recipient, amount, status, tx_id, reserved_at, claimed_at, expires_at
    FROM reward_claims
    WHERE token_hash = $1
`

// Reserve implements claim.ClaimedSet. The primary key on token_hash makes the insert
// the atomic test-and-set.
func (c *ClaimStore) Reserve(ctx context.Context, rec claim.Record) (claim.Record, bool, error) {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("reserve_claim", time.Since(start)) }()
	for {
		tag, err := c.pool.Exec(ctx, `
            INSERT INTO reward_claims (token_hash, purchase_id, email, recipient, amount, status, reserved_at, expires_at)
            VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
            ON CONFLICT (token_hash) DO NOTHING
        `, rec.TokenHash, rec.PurchaseID, rec.Email, rec.Recipient, rec.Amount, rec.ReservedAt, nullableTime(rec.ExpiresAt))
		if err != nil {
			return claim.Record{}, false, err
		}
		if tag.RowsAffected() == 1 {
			rec.Status = claim.StatusPending
			return rec, true, nil
		}
		existing, err := c.Get(ctx, rec.TokenHash)
		if errors.Is(err, claim.ErrRecordNotFound) {
			// Released between the insert and the read; try again.
			continue
		}
		return existing, false, err
	}
}

// Complete implements claim.ClaimedSet.
func (c *ClaimStore) Complete(ctx context.Context, tokenHash, txID string, at time.Time) (claim.Record, error) {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("complete_claim", time.Since(start)) }()
	if _, err := c.pool.Exec(ctx, `
        UPDATE reward_claims
        SET status = 'claimed', tx_id = $2, claimed_at = $3
        WHERE token_hash = $1 AND status <> 'claimed'
    `, tokenHash, txID, at); err != nil {
		return claim.Record{}, err
	}
	return c.Get(ctx, tokenHash)
}

// Release implements claim.ClaimedSet.
func (c *ClaimStore) Release(ctx context.Context, tokenHash string) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("release_claim", time.Since(start)) }()
	_, err := c.pool.Exec(ctx, `
        DELETE FROM reward_claims
        WHERE token_hash = $1 AND status IN ('pending', 'unknown')
    `, tokenHash)
	return err
}

// MarkUnknown implements claim.ClaimedSet.
func (c *ClaimStore) MarkUnknown(ctx context.Context, tokenHash string) error {
	start := time.Now()
	defer func() { metrics.ObserveDBOperation("mark_unknown", time.Since(start)) }()
	tag, err := c.pool.Exec(ctx, `
        UPDATE reward_claims SET status = 'unknown'
        WHERE token_hash = $1 AND status = 'pending'
    `, tokenHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		_, err = c.Get(ctx, tokenHash)
		return err
	}
	return nil
}

// Get implements claim.ClaimedSet.
func (c *ClaimStore) Get(ctx context.Context, tokenHash string) (claim.Record, error) {
	var (
		rec       claim.Record
		status    string
		claimedAt pgtype.Timestamptz
		expiresAt pgtype.Timestamptz
	)
	err := c.pool.QueryRow(ctx, selectClaim, tokenHash).Scan(
		&rec.TokenHash, &rec.PurchaseID, &rec.Email, &rec.Recipient, &rec.Amount,
		&status, &rec.TransactionID, &rec.ReservedAt, &claimedAt, &expiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return claim.Record{}, claim.ErrRecordNotFound
	}
	if err != nil {
		return claim.Record{}, err
	}
	rec.Status = claim.Status(status)
	if claimedAt.Valid {
		rec.ClaimedAt = claimedAt.Time
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	return rec, nil
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

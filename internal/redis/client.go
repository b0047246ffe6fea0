package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goRedis "github.com/redis/go-redis/v9"

	"crypify/internal/domain/claim"
	"crypify/internal/observability/metrics"
	"crypify/scripts/lua"
)

// recordRetention keeps a claim record this long past its token expiry. Expired tokens
// are rejected before the claimed-set is consulted, so the record is no longer needed.
const recordRetention = 24 * time.Hour

// Client wraps go-redis and implements claim.ClaimedSet with Lua scripts.
type Client struct {
	rdb            *goRedis.Client
	reserveScript  *goRedis.Script
	completeScript *goRedis.Script
	releaseScript  *goRedis.Script
	unknownScript  *goRedis.Script
}

// New creates a Redis client and verifies connectivity.
func New(addr string) (*Client, error) {
	rdb := goRedis.NewClient(&goRedis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewFromClient(rdb), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *goRedis.Client) *Client {
	return &Client{
		rdb:            rdb,
		reserveScript:  goRedis.NewScript(lua.ReserveClaim),
		completeScript: goRedis.NewScript(lua.CompleteClaim),
		releaseScript:  goRedis.NewScript(lua.ReleaseClaim),
		unknownScript:  goRedis.NewScript(lua.MarkUnknown),
	}
}

// Close shuts down the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ClaimKey returns the Redis key holding the record for a token hash.
func (c *Client) ClaimKey(tokenHash string) string {
	return fmt.Sprintf("claim:%s", tokenHash)
}

// Reserve implements claim.ClaimedSet.
func (c *Client) Reserve(ctx context.Context, rec claim.Record) (claim.Record, bool, error) {
	start := time.Now()
	defer func() { metrics.ObserveRedisOperation("reserve_claim", time.Since(start)) }()

	expireAt := rec.ExpiresAt.Add(recordRetention)
	if rec.ExpiresAt.IsZero() {
		expireAt = time.Now().Add(recordRetention)
	}
	args := []interface{}{
		expireAt.UnixMilli(),
		"token_hash", rec.TokenHash,
		"purchase_id", rec.PurchaseID,
		"email", rec.Email,
		"recipient", rec.Recipient,
		"amount", rec.Amount,
		"reserved_at", unixMilli(rec.ReservedAt),
		"expires_at", unixMilli(rec.ExpiresAt),
	}
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{c.ClaimKey(rec.TokenHash)}, args...).Result()
	if err != nil {
		return claim.Record{}, false, err
	}
	switch v := result.(type) {
	case int64:
		rec.Status = claim.StatusPending
		return rec, true, nil
	case []interface{}:
		existing, err := parseRecord(v)
		return existing, false, err
	default:
		return claim.Record{}, false, fmt.Errorf("unexpected reserve reply: %v", result)
	}
}

// Complete implements claim.ClaimedSet.
func (c *Client) Complete(ctx context.Context, tokenHash, txID string, at time.Time) (claim.Record, error) {
	start := time.Now()
	defer func() { metrics.ObserveRedisOperation("complete_claim", time.Since(start)) }()

	result, err := c.completeScript.Run(ctx, c.rdb, []string{c.ClaimKey(tokenHash)}, txID, at.UnixMilli()).Slice()
	if errors.Is(err, goRedis.Nil) {
		return claim.Record{}, claim.ErrRecordNotFound
	}
	if err != nil {
		return claim.Record{}, err
	}
	return parseRecord(result)
}

// Release implements claim.ClaimedSet.
func (c *Client) Release(ctx context.Context, tokenHash string) error {
	start := time.Now()
	defer func() { metrics.ObserveRedisOperation("release_claim", time.Since(start)) }()
	return c.releaseScript.Run(ctx, c.rdb, []string{c.ClaimKey(tokenHash)}).Err()
}

// MarkUnknown implements claim.ClaimedSet.
func (c *Client) MarkUnknown(ctx context.Context, tokenHash string) error {
	start := time.Now()
	defer func() { metrics.ObserveRedisOperation("mark_unknown", time.Since(start)) }()
	n, err := c.unknownScript.Run(ctx, c.rdb, []string{c.ClaimKey(tokenHash)}).Int64()
	if err != nil {
		return err
	}
	if n < 0 {
		return claim.ErrRecordNotFound
	}
	return nil
}

// Get implements claim.ClaimedSet.
func (c *Client) Get(ctx context.Context, tokenHash string) (claim.Record, error) {
	start := time.Now()
	defer func() { metrics.ObserveRedisOperation("get_claim", time.Since(start)) }()
	fields, err := c.rdb.HGetAll(ctx, c.ClaimKey(tokenHash)).Result()
	if err != nil {
		return claim.Record{}, err
	}
	if len(fields) == 0 {
		return claim.Record{}, claim.ErrRecordNotFound
	}
	return recordFromMap(fields)
}

func parseRecord(reply []interface{}) (claim.Record, error) {
	if len(reply)%2 != 0 {
		return claim.Record{}, fmt.Errorf("unexpected HGETALL reply length %d", len(reply))
	}
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		fields[fmt.Sprint(reply[i])] = fmt.Sprint(reply[i+1])
	}
	return recordFromMap(fields)
}

func recordFromMap(fields map[string]string) (claim.Record, error) {
	rec := claim.Record{
		TokenHash:     fields["token_hash"],
		PurchaseID:    fields["purchase_id"],
		Email:         fields["email"],
		Recipient:     fields["recipient"],
		Amount:        fields["amount"],
		Status:        claim.Status(fields["status"]),
		TransactionID: fields["tx_id"],
	}
	var err error
	if rec.ReservedAt, err = parseMilli(fields["reserved_at"]); err != nil {
		return claim.Record{}, fmt.Errorf("reserved_at: %w", err)
	}
	if rec.ClaimedAt, err = parseMilli(fields["claimed_at"]); err != nil {
		return claim.Record{}, fmt.Errorf("claimed_at: %w", err)
	}
	if rec.ExpiresAt, err = parseMilli(fields["expires_at"]); err != nil {
		return claim.Record{}, fmt.Errorf("expires_at: %w", err)
	}
	return rec, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseMilli(v string) (time.Time, error) {
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

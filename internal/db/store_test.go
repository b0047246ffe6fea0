package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypify/internal/domain/claim"
	"crypify/internal/domain/purchase"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock, NewWithPool(mock)
}

var claimColumns = []string{"token_hash", "purchase_id", "email", "recipient", "amount", "status", "tx_id", "reserved_at", "claimed_at", "expires_at"}

func TestEnsureSchemaAndSeed(t *testing.T) {
	mock, store := newMock(t)
	ctx := context.Background()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reward_claims").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(ctx))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock").WithArgs("cap", 150).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO stock").WithArgs("hoodie", 100).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()
	require.NoError(t, store.SeedStock(ctx, map[string]int{"hoodie": 100, "cap": 150}))
}

func TestSeedStockRollsBack(t *testing.T) {
	mock, store := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock").WithArgs("cap", 1).WillReturnError(boom)
	mock.ExpectRollback()
	require.ErrorIs(t, store.SeedStock(context.Background(), map[string]int{"cap": 1}), boom)
}

func TestClaimReserve(t *testing.T) {
	mock, store := newMock(t)
	claims := store.Claims()
	ctx := context.Background()
	reservedAt := time.UnixMilli(1_700_000_000_000)
	rec := claim.Record{TokenHash: "h", PurchaseID: "PUR-1", Email: "a@b.com", Recipient: "0xabc", Amount: "5.00", ReservedAt: reservedAt}

	mock.ExpectExec("INSERT INTO reward_claims").
		WithArgs("h", "PUR-1", "a@b.com", "0xabc", "5.00", reservedAt, pgtype.Timestamptz{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	got, reserved, err := claims.Reserve(ctx, rec)
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Equal(t, claim.StatusPending, got.Status)

	claimedAt := reservedAt.Add(time.Second)
	mock.ExpectExec("INSERT INTO reward_claims").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM reward_claims").WithArgs("h").WillReturnRows(
		pgxmock.NewRows(claimColumns).AddRow("h", "PUR-1", "a@b.com", "0xabc", "5.00", "claimed", "0xtx",
			reservedAt, pgtype.Timestamptz{Time: claimedAt, Valid: true}, pgtype.Timestamptz{}),
	)
	existing, reserved, err := claims.Reserve(ctx, rec)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, claim.StatusClaimed, existing.Status)
	assert.Equal(t, "0xtx", existing.TransactionID)
	assert.Equal(t, claimedAt, existing.ClaimedAt)
	assert.True(t, existing.ExpiresAt.IsZero())
}

func TestClaimGetMissing(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectQuery("FROM reward_claims").WithArgs("nope").WillReturnRows(pgxmock.NewRows(claimColumns))
	_, err := store.Claims().Get(context.Background(), "nope")
	require.ErrorIs(t, err, claim.ErrRecordNotFound)
}

func TestClaimMarkUnknownMissing(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectExec("SET status = 'unknown'").WithArgs("h").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("FROM reward_claims").WithArgs("h").WillReturnRows(pgxmock.NewRows(claimColumns))
	require.ErrorIs(t, store.Claims().MarkUnknown(context.Background(), "h"), claim.ErrRecordNotFound)
}

func TestClaimReleaseKeepsClaimed(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectExec(`DELETE FROM reward_claims\s+WHERE token_hash = \$1 AND status IN \('pending', 'unknown'\)`).
		WithArgs("h").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.NoError(t, store.Claims().Release(context.Background(), "h"))
}

func TestReserveStock(t *testing.T) {
	mock, store := newMock(t)
	purchases := store.Purchases()
	ctx := context.Background()

	mock.ExpectExec("UPDATE stock SET available = available -").WithArgs("cap", 2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, purchases.ReserveStock(ctx, "cap", 2))

	mock.ExpectExec("UPDATE stock SET available = available -").WithArgs("cap", 500).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("cap").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	require.ErrorIs(t, purchases.ReserveStock(ctx, "cap", 500), purchase.ErrInsufficientStock)

	mock.ExpectExec("UPDATE stock SET available = available -").WithArgs("socks", 1).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("socks").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	require.ErrorIs(t, purchases.ReserveStock(ctx, "socks", 1), purchase.ErrInvalidSKU)
}

func TestPurchaseGetAndMarkPaid(t *testing.T) {
	mock, store := newMock(t)
	purchases := store.Purchases()
	ctx := context.Background()
	created := time.UnixMilli(1_700_000_000_000)
	cols := []string{"id", "sku", "qty", "email", "total_usd", "paid", "payment_tx", "reward_tx", "created_at", "paid_at"}

	mock.ExpectQuery("FROM purchases").WithArgs("PUR-1").WillReturnRows(
		pgxmock.NewRows(cols).AddRow("PUR-1", "hoodie", 2, "a@b.com", decimal.NewFromInt(100), false, "", "", created, pgtype.Timestamptz{}),
	)
	p, err := purchases.Get(ctx, "PUR-1")
	require.NoError(t, err)
	assert.Equal(t, "hoodie", p.SKU)
	assert.True(t, p.TotalUSD.Equal(decimal.NewFromInt(100)))
	assert.False(t, p.Paid)

	paidAt := created.Add(time.Minute)
	mock.ExpectExec("UPDATE purchases SET paid = TRUE").WithArgs("PUR-1", "0xpay", paidAt).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, purchases.MarkPaid(ctx, "PUR-1", "0xpay", paidAt))

	mock.ExpectExec("UPDATE purchases SET paid = TRUE").WithArgs("PUR-1", "0xpay", paidAt).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("FROM purchases").WithArgs("PUR-1").WillReturnRows(
		pgxmock.NewRows(cols).AddRow("PUR-1", "hoodie", 2, "a@b.com", decimal.NewFromInt(100), true, "0xpay", "", created, pgtype.Timestamptz{Time: paidAt, Valid: true}),
	)
	require.ErrorIs(t, purchases.MarkPaid(ctx, "PUR-1", "0xpay", paidAt), purchase.ErrAlreadyPaid)

	mock.ExpectExec("UPDATE purchases SET reward_tx").WithArgs("PUR-404", "0xr").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, purchases.SetRewardTx(ctx, "PUR-404", "0xr"), purchase.ErrNotFound)
}

func TestMarkPaidRejectsReusedPaymentTx(t *testing.T) {
	mock, store := newMock(t)
	paidAt := time.UnixMilli(1_700_000_060_000)

	mock.ExpectExec("UPDATE purchases SET paid = TRUE").WithArgs("PUR-2", "0xpay", paidAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_purchases_payment_tx"})
	require.ErrorIs(t, store.Purchases().MarkPaid(context.Background(), "PUR-2", "0xpay", paidAt), purchase.ErrPaymentAlreadyUsed)
}

func TestSchemaKeepsPaymentTxUnique(t *testing.T) {
	assert.Contains(t, schemaSQL, "CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_payment_tx ON purchases(payment_tx) WHERE payment_tx <> ''")
}

func TestInsertClaimLogIgnoresDuplicates(t *testing.T) {
	mock, store := newMock(t)
	ts := time.UnixMilli(1_700_000_000_000).UTC()
	event := claim.Event{
		EventID: "e1", TokenHash: "h", PurchaseID: "PUR-1", Email: "a@b.com", Recipient: "0xabc",
		Amount: "5.00", Asset: "USDC", Network: "base-sepolia", TransactionID: "0xtx", Timestamp: ts,
	}
	mock.ExpectExec(`(?s)INSERT INTO claim_log .* ON CONFLICT \(token_hash\) DO NOTHING`).
		WithArgs("e1", "h", "PUR-1", "a@b.com", "0xabc", "5.00", "USDC", "base-sepolia", "0xtx", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	require.NoError(t, store.InsertClaimLog(context.Background(), event))
}

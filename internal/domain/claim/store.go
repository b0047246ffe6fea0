package claim

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a claimed-set record.
type Status string

const (
	// StatusPending means a caller holds the claim and is paying out.
	StatusPending Status = "pending"
	// StatusClaimed means the payout succeeded. Terminal.
	StatusClaimed Status = "claimed"
	// StatusUnknown means the payout call timed out and may or may not have landed.
	StatusUnknown Status = "unknown"
)

// Record is one claimed-set entry, keyed by token hash.
type Record struct {
	TokenHash     string
	PurchaseID    string
	Email         string
	Recipient     string
	Amount        string
	Status        Status
	TransactionID string
	ReservedAt    time.Time
	ClaimedAt     time.Time
	ExpiresAt     time.Time
}

// ClaimedSet records which token identities have produced a payout.
type ClaimedSet interface {
	// Reserve inserts rec as pending when no record exists for rec.TokenHash, in one
	// atomic step. When a record exists it is returned with reserved=false.
	Reserve(ctx context.Context, rec Record) (existing Record, reserved bool, err error)
	// Complete marks the record claimed with the transaction id. Completing an already
	// claimed record returns it unchanged.
	Complete(ctx context.Context, tokenHash, txID string, at time.Time) (Record, error)
	// Release deletes a pending or unknown record so the claim can be retried.
	Release(ctx context.Context, tokenHash string) error
	// MarkUnknown moves a pending record to unknown.
	MarkUnknown(ctx context.Context, tokenHash string) error
	// Get returns ErrRecordNotFound for unknown hashes.
	Get(ctx context.Context, tokenHash string) (Record, error)
}

// PurchaseInfo is the part of a purchase the claim core checks.
type PurchaseInfo struct {
	ID       string
	Paid     bool
	TotalUSD decimal.Decimal
}

// Purchases gives the claim core read/write access to the originating purchase.
type Purchases interface {
	// PurchaseInfo returns an error matching ErrPurchaseNotFound for unknown ids.
	PurchaseInfo(ctx context.Context, id string) (PurchaseInfo, error)
	MarkRewardClaimed(ctx context.Context, id, txID string) error
}

// Publisher announces settled claims.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

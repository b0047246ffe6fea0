package claim

import "errors"

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and payloads that fail
	// business validation. Callers must not reveal which.
	ErrInvalidToken = errors.New("claim: invalid token")
	// ErrExpired indicates the claim link is past its expiry instant.
	ErrExpired = errors.New("claim: link expired")
	// ErrNoRecipient indicates neither the request nor the token named a payout address.
	ErrNoRecipient = errors.New("claim: no recipient address")
	// ErrClaimInProgress indicates another caller holds the claim and did not settle in time.
	ErrClaimInProgress = errors.New("claim: payout in progress")
	// ErrPayoutFailed is matched by every *PayoutError.
	ErrPayoutFailed = errors.New("claim: payout failed")
	// ErrPayoutTimeout means the payout network did not answer in time. The transfer may
	// still land.
	ErrPayoutTimeout = errors.New("claim: payout timed out")
	// ErrOutcomeUnknown marks a claim whose transfer outcome needs operator reconciliation.
	ErrOutcomeUnknown = errors.New("claim: payout outcome unknown")
	// ErrAlreadyClaimed is returned by reconciliation calls on settled claims.
	ErrAlreadyClaimed = errors.New("claim: already claimed")
	// ErrRecordNotFound is returned by ClaimedSet implementations for unknown token hashes.
	ErrRecordNotFound = errors.New("claim: record not found")
	// ErrPurchaseNotFound is returned by Purchases implementations for unknown purchase ids.
	ErrPurchaseNotFound = errors.New("claim: purchase not found")
)

// PayoutError wraps a failed or ambiguous transfer. The claim is left retryable unless
// the cause is ErrPayoutTimeout or ErrOutcomeUnknown.
type PayoutError struct {
	Cause error
}

func (e *PayoutError) Error() string {
	if e.Cause == nil {
		return ErrPayoutFailed.Error()
	}
	return ErrPayoutFailed.Error() + ": " + e.Cause.Error()
}

// Unwrap exposes the cause.
func (e *PayoutError) Unwrap() error { return e.Cause }

// Is makes every PayoutError match ErrPayoutFailed.
func (e *PayoutError) Is(target error) bool { return target == ErrPayoutFailed }

package payout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// AssetUSDC is the only asset rewards are paid in.
const AssetUSDC = "USDC"

// ErrInvalidAmount is returned for zero, negative or sub-unit amounts.
var ErrInvalidAmount = errors.New("payout: invalid amount")

// Request describes one transfer of value to a recipient.
type Request struct {
	To      string
	Amount  decimal.Decimal
	Asset   string
	Network string
	// Reference correlates the transfer with its claim in logs. Never a bearer token.
	Reference string
}

// Sender moves value on a network and returns the transaction identifier. Implementations
// are not idempotent: every successful call is a separate transfer.
type Sender interface {
	Send(ctx context.Context, req Request) (string, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, req Request) (string, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ToBaseUnits converts a decimal token amount into integer base units, truncating anything
// below one unit.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	units := amount.Shift(decimals).Floor()
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	return units.BigInt(), nil
}

// Sandbox records transfers without touching a network and returns random transaction
// hashes. It backs demo deployments and tests.
type Sandbox struct {
	mu   sync.Mutex
	sent []Request
}

// NewSandbox builds an empty Sandbox sender.
func NewSandbox() *Sandbox {
	return &Sandbox{}
}

// Send implements Sender.
func (s *Sandbox) Send(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.To) == "" {
		return "", errors.New("payout: recipient required")
	}
	if req.Amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount.String())
	}
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	return "0x" + hex.EncodeToString(buf[:]), nil
}

// Sent returns a copy of the recorded requests.
func (s *Sandbox) Sent() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.sent...)
}

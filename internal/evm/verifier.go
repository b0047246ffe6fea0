package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"crypify/internal/payout"
)

// Verifier confirms that a buyer's payment transaction moved the expected token amount to
// the merchant.
type Verifier struct {
	client        ReceiptClient
	token         common.Address
	merchant      common.Address
	decimals      int32
	confirmations uint64
}

// NewVerifier constructs a verifier.
func NewVerifier(client ReceiptClient, token, merchant common.Address, decimals int32, confirmations uint64) *Verifier {
	return &Verifier{client: client, token: token, merchant: merchant, decimals: decimals, confirmations: confirmations}
}

// VerifyPayment implements purchase.PaymentVerifier.
func (v *Verifier) VerifyPayment(ctx context.Context, txHash string, amount decimal.Decimal) error {
	trimmed := strings.TrimSpace(txHash)
	if len(trimmed) != 66 || !strings.HasPrefix(trimmed, "0x") {
		return fmt.Errorf("invalid tx hash %q", txHash)
	}
	want, err := payout.ToBaseUnits(amount, v.decimals)
	if err != nil {
		return err
	}
	return v.Confirm(ctx, common.HexToHash(trimmed), want)
}

// Confirm checks that the transaction succeeded and carries a matching Transfer log.
func (v *Verifier) Confirm(ctx context.Context, txHash common.Hash, amount *big.Int) error {
	if v == nil || v.client == nil {
		return fmt.Errorf("evm verifier not initialised")
	}
	if (v.merchant == common.Address{}) {
		return fmt.Errorf("merchant address required")
	}
	receipt, err := v.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("transaction %s not found", txHash.Hex())
		}
		return fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil {
		return fmt.Errorf("transaction receipt missing")
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s failed", txHash.Hex())
	}
	if v.confirmations > 0 {
		header, err := v.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return fmt.Errorf("fetch head: %w", err)
		}
		if header == nil || header.Number == nil || receipt.BlockNumber == nil {
			return fmt.Errorf("block metadata unavailable")
		}
		confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
		confirmed.Add(confirmed, big.NewInt(1))
		if confirmed.Cmp(new(big.Int).SetUint64(v.confirmations)) < 0 {
			return fmt.Errorf("insufficient confirmations: have %s want %d", confirmed, v.confirmations)
		}
	}
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != v.token || len(lg.Topics) < 3 || lg.Topics[0] != transferEventSignature {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != v.merchant {
			continue
		}
		if new(big.Int).SetBytes(lg.Data).Cmp(amount) == 0 {
			return nil
		}
	}
	return fmt.Errorf("no matching transfer for %s", txHash.Hex())
}

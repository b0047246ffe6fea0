package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crypify/internal/payout"
)

// WalletConfig configures the hot wallet that pays rewards.
type WalletConfig struct {
	ChainID    *big.Int
	PrivateKey string
	Token      common.Address
	Decimals   int32
}

// Wallet sends ERC-20 transfers from a single hot key. It implements payout.Sender.
type Wallet struct {
	client   TxClient
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	token    common.Address
	decimals int32

	// mu serialises nonce assignment.
	mu sync.Mutex
}

// NewWallet parses the key and binds the wallet to the token contract.
func NewWallet(client TxClient, cfg WalletConfig) (*Wallet, error) {
	if client == nil {
		return nil, errors.New("evm client required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id required")
	}
	if (cfg.Token == common.Address{}) {
		return nil, errors.New("token contract required")
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Wallet{
		client:   client,
		key:      key,
		from:     gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  new(big.Int).Set(cfg.ChainID),
		token:    cfg.Token,
		decimals: cfg.Decimals,
	}, nil
}

// Address returns the wallet's sending address.
func (w *Wallet) Address() common.Address {
	return w.from
}

// Send transfers req.Amount of the token to req.To and returns the transaction hash.
func (w *Wallet) Send(ctx context.Context, req payout.Request) (string, error) {
	if req.Asset != "" && req.Asset != payout.AssetUSDC {
		return "", fmt.Errorf("unsupported asset %q", req.Asset)
	}
	to, err := ParseAddress(req.To)
	if err != nil {
		return "", err
	}
	amount, err := payout.ToBaseUnits(req.Amount, w.decimals)
	if err != nil {
		return "", err
	}
	data := transferCalldata(to, amount)

	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := w.client.PendingNonceAt(ctx, w.from)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	tip, err := w.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest tip: %w", err)
	}
	head, err := w.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("fetch head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := w.client.EstimateGas(ctx, ethereum.CallMsg{From: w.from, To: &w.token, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &w.token,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}
	return signed.Hash().Hex(), nil
}

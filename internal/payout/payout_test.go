package payout

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"5.00", 5_000_000},
		{"0.1", 100_000},
		{"1.2345678", 1_234_567},
		{"0.000001", 1},
	}
	for _, tc := range cases {
		got, err := ToBaseUnits(decimal.RequireFromString(tc.in), 6)
		require.NoError(t, err, tc.in)
		assert.Equal(t, 0, got.Cmp(big.NewInt(tc.want)), "%s -> %s", tc.in, got)
	}
}

func TestToBaseUnitsRejectsDust(t *testing.T) {
	for _, in := range []string{"0", "-1", "0.0000009"} {
		_, err := ToBaseUnits(decimal.RequireFromString(in), 6)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestSandboxSend(t *testing.T) {
	s := NewSandbox()
	req := Request{To: "0xabc", Amount: decimal.RequireFromString("5.00"), Asset: AssetUSDC, Network: "base-sepolia"}

	a, err := s.Send(context.Background(), req)
	require.NoError(t, err)
	b, err := s.Send(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, a, 66)
	assert.NotEqual(t, a, b)
	assert.Len(t, s.Sent(), 2)
}

func TestSandboxRejects(t *testing.T) {
	s := NewSandbox()
	_, err := s.Send(context.Background(), Request{Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	_, err = s.Send(context.Background(), Request{To: "0xabc"})
	require.ErrorIs(t, err, ErrInvalidAmount)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Send(ctx, Request{To: "0xabc", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Sent())
}

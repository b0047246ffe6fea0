package claim_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypify/internal/claimtoken"
	"crypify/internal/domain/claim"
	"crypify/internal/memstore"
	"crypify/internal/payout"
)

var baseTime = time.UnixMilli(1_700_000_000_000)

type trackingSender struct {
	mu    sync.Mutex
	calls []payout.Request
	delay time.Duration
	fail  error
	hang  bool
}

func (s *trackingSender) Send(ctx context.Context, req payout.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	fail, hang, delay := s.fail, s.hang, s.delay
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		return "", fail
	}
	return fmt.Sprintf("0xtx%d", n), nil
}

func (s *trackingSender) set(fn func(*trackingSender)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *trackingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []claim.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e claim.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type stubPurchases struct {
	mu      sync.Mutex
	info    map[string]claim.PurchaseInfo
	rewards map[string]string
}

func (p *stubPurchases) PurchaseInfo(_ context.Context, id string) (claim.PurchaseInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.info[id]
	if !ok {
		return claim.PurchaseInfo{}, claim.ErrPurchaseNotFound
	}
	return info, nil
}

func (p *stubPurchases) MarkRewardClaimed(_ context.Context, id, txID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rewards[id] = txID
	return nil
}

type fixture struct {
	codec  *claimtoken.Codec
	claims *memstore.ClaimedSet
	sender *trackingSender
	svc    *claim.Service
}

func newFixture(t *testing.T, opts ...claim.Option) *fixture {
	t.Helper()
	codec, err := claimtoken.New([]byte("s3cret"))
	require.NoError(t, err)
	f := &fixture{codec: codec, claims: memstore.NewClaimedSet(), sender: &trackingSender{}}
	opts = append([]claim.Option{claim.WithPollInterval(2 * time.Millisecond)}, opts...)
	f.svc = claim.NewService(codec, f.claims, f.sender, opts...)
	return f
}

func (f *fixture) token(t *testing.T, mutate func(*claimtoken.Payload)) string {
	t.Helper()
	p := claimtoken.Payload{
		Email:       "a@b.com",
		UserAddress: "0xABC0000000000000000000000000000000000001",
		PurchaseID:  "PUR-1",
		RewardUSD:   "5.00",
		ExpiresAt:   baseTime.UnixMilli() + 1000,
	}
	if mutate != nil {
		mutate(&p)
	}
	tok, err := f.codec.Encode(p)
	require.NoError(t, err)
	return tok
}

func TestClaimHappyPath(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.svc.Claim(context.Background(), f.token(t, nil), "", baseTime)
	require.NoError(t, err)

	assert.Equal(t, "5.00", receipt.Amount)
	assert.NotEmpty(t, receipt.TransactionID)
	assert.Equal(t, "a@b.com", receipt.Email)
	assert.Equal(t, "0xABC0000000000000000000000000000000000001", receipt.Recipient)
	require.Equal(t, 1, f.sender.count())
	req := f.sender.calls[0]
	assert.Equal(t, payout.AssetUSDC, req.Asset)
	assert.Equal(t, "base-sepolia", req.Network)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("5")))
}

func TestClaimPrefersResolvedAddress(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.svc.Claim(context.Background(), f.token(t, nil), " 0xNEW ", baseTime)
	require.NoError(t, err)
	assert.Equal(t, "0xNEW", receipt.Recipient)
	assert.Equal(t, "0xNEW", f.sender.calls[0].To)
}

func TestClaimNoRecipient(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, func(p *claimtoken.Payload) { p.UserAddress = "" })
	_, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.ErrorIs(t, err, claim.ErrNoRecipient)
	assert.Zero(t, f.sender.count())
}

func TestClaimExpired(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, func(p *claimtoken.Payload) { p.ExpiresAt = baseTime.UnixMilli() - 1 })
	_, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.ErrorIs(t, err, claim.ErrExpired)
	assert.Zero(t, f.sender.count())
}

func TestClaimExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, func(p *claimtoken.Payload) { p.ExpiresAt = baseTime.UnixMilli() })

	_, err := f.svc.Claim(context.Background(), tok, "", baseTime.Add(time.Millisecond))
	require.ErrorIs(t, err, claim.ErrExpired)

	_, err = f.svc.Claim(context.Background(), tok, "", baseTime)
	require.NoError(t, err, "a token is still valid at exactly expiresAt")
}

func TestClaimTamperedSignature(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, nil)
	last := tok[len(tok)-1]
	repl := byte('A')
	if last == 'A' {
		repl = 'B'
	}
	tampered := tok[:len(tok)-1] + string(repl)

	_, err := f.svc.Claim(context.Background(), tampered, "", baseTime)
	require.ErrorIs(t, err, claim.ErrInvalidToken)
	assert.Zero(t, f.sender.count())
}

func TestClaimRejectsBadReward(t *testing.T) {
	f := newFixture(t)
	for _, reward := range []string{"abc", "0", "-1"} {
		tok := f.token(t, func(p *claimtoken.Payload) { p.RewardUSD = reward })
		_, err := f.svc.Claim(context.Background(), tok, "", baseTime)
		require.ErrorIs(t, err, claim.ErrInvalidToken, reward)
	}
	assert.Zero(t, f.sender.count())
}

func TestClaimIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, nil)

	first, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.NoError(t, err)
	second, err := f.svc.Claim(context.Background(), tok, "", baseTime.Add(10*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, first.ClaimedAt, second.ClaimedAt)
}

func TestReissuedTokensAreIndependent(t *testing.T) {
	f := newFixture(t)
	a := f.token(t, nil)
	b := f.token(t, func(p *claimtoken.Payload) { p.ExpiresAt++ })

	ra, err := f.svc.Claim(context.Background(), a, "", baseTime)
	require.NoError(t, err)
	rb, err := f.svc.Claim(context.Background(), b, "", baseTime)
	require.NoError(t, err)
	assert.NotEqual(t, ra.TransactionID, rb.TransactionID)
	assert.Equal(t, 2, f.sender.count())
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	f := newFixture(t)
	f.sender.set(func(s *trackingSender) { s.delay = 20 * time.Millisecond })
	tok := f.token(t, nil)

	const n = 16
	receipts := make([]*claim.Receipt, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			receipts[i], errs[i] = f.svc.Claim(context.Background(), tok, "", baseTime)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, f.sender.count())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, receipts[0].TransactionID, receipts[i].TransactionID)
	}
}

func TestConcurrentClaimsAcrossInstancesPayOnce(t *testing.T) {
	f := newFixture(t)
	f.sender.set(func(s *trackingSender) { s.delay = 30 * time.Millisecond })
	other := claim.NewService(f.codec, f.claims, f.sender, claim.WithPollInterval(2*time.Millisecond))
	tok := f.token(t, nil)

	services := []*claim.Service{f.svc, other, f.svc, other, other, f.svc}
	receipts := make([]*claim.Receipt, len(services))
	errs := make([]error, len(services))
	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *claim.Service) {
			defer wg.Done()
			receipts[i], errs[i] = svc.Claim(context.Background(), tok, "", baseTime)
		}(i, svc)
	}
	wg.Wait()

	assert.Equal(t, 1, f.sender.count())
	for i := range services {
		require.NoError(t, errs[i])
		assert.Equal(t, receipts[0].TransactionID, receipts[i].TransactionID)
	}
}

func TestPayoutFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("insufficient funds")
	f.sender.set(func(s *trackingSender) { s.fail = boom })
	tok := f.token(t, nil)

	_, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.ErrorIs(t, err, claim.ErrPayoutFailed)
	require.ErrorIs(t, err, boom)
	var perr *claim.PayoutError
	require.ErrorAs(t, err, &perr)

	_, err = f.claims.Get(context.Background(), claimtoken.Hash(tok))
	require.ErrorIs(t, err, claim.ErrRecordNotFound)

	f.sender.set(func(s *trackingSender) { s.fail = nil })
	receipt, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.NoError(t, err)
	assert.Equal(t, "0xtx2", receipt.TransactionID)
	assert.Equal(t, 2, f.sender.count())
}

func TestPayoutTimeoutNeedsReconciliation(t *testing.T) {
	f := newFixture(t, claim.WithPayoutTimeout(20*time.Millisecond))
	f.sender.set(func(s *trackingSender) { s.hang = true })
	tok := f.token(t, nil)
	hash := claimtoken.Hash(tok)

	_, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.ErrorIs(t, err, claim.ErrPayoutTimeout)
	require.ErrorIs(t, err, claim.ErrPayoutFailed)

	rec, err := f.svc.Lookup(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusUnknown, rec.Status)

	f.sender.set(func(s *trackingSender) { s.hang = false })
	_, err = f.svc.Claim(context.Background(), tok, "", baseTime)
	require.ErrorIs(t, err, claim.ErrOutcomeUnknown)
	assert.Equal(t, 1, f.sender.count(), "ambiguous payouts are never retried automatically")

	receipt, err := f.svc.Resolve(context.Background(), hash, "0xfound", baseTime)
	require.NoError(t, err)
	assert.Equal(t, "0xfound", receipt.TransactionID)

	replay, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.NoError(t, err)
	assert.Equal(t, "0xfound", replay.TransactionID)
	assert.Equal(t, 1, f.sender.count())

	_, err = f.svc.Resolve(context.Background(), hash, "0xother", baseTime)
	require.ErrorIs(t, err, claim.ErrAlreadyClaimed)
	require.ErrorIs(t, f.svc.Release(context.Background(), hash), claim.ErrAlreadyClaimed)
}

func TestOperatorReleaseAllowsRetry(t *testing.T) {
	f := newFixture(t, claim.WithPayoutTimeout(10*time.Millisecond))
	f.sender.set(func(s *trackingSender) { s.hang = true })
	tok := f.token(t, nil)
	hash := claimtoken.Hash(tok)

	_, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.ErrorIs(t, err, claim.ErrPayoutTimeout)

	require.NoError(t, f.svc.Release(context.Background(), hash))
	f.sender.set(func(s *trackingSender) { s.hang = false })
	receipt, err := f.svc.Claim(context.Background(), tok, "", baseTime)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TransactionID)
}

func TestWaiterGivesUpOnStuckClaim(t *testing.T) {
	f := newFixture(t, claim.WithWaitTimeout(20*time.Millisecond))
	tok := f.token(t, nil)
	_, reserved, err := f.claims.Reserve(context.Background(), claim.Record{TokenHash: claimtoken.Hash(tok)})
	require.NoError(t, err)
	require.True(t, reserved)

	_, err = f.svc.Claim(context.Background(), tok, "", baseTime)
	require.ErrorIs(t, err, claim.ErrClaimInProgress)
	assert.Zero(t, f.sender.count())
}

func TestClaimChecksPurchase(t *testing.T) {
	purchases := &stubPurchases{
		info: map[string]claim.PurchaseInfo{
			"PUR-1":    {ID: "PUR-1", Paid: true, TotalUSD: decimal.NewFromInt(50)},
			"PUR-UNPD": {ID: "PUR-UNPD", Paid: false, TotalUSD: decimal.NewFromInt(50)},
		},
		rewards: map[string]string{},
	}
	publisher := &recordingPublisher{}
	f := newFixture(t,
		claim.WithPurchases(purchases, decimal.RequireFromString("0.10")),
		claim.WithPublisher(publisher),
	)

	cases := map[string]func(*claimtoken.Payload){
		"unknown purchase": func(p *claimtoken.Payload) { p.PurchaseID = "PUR-404" },
		"unpaid purchase":  func(p *claimtoken.Payload) { p.PurchaseID = "PUR-UNPD" },
		"inflated reward":  func(p *claimtoken.Payload) { p.RewardUSD = "5.01" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Claim(context.Background(), f.token(t, mutate), "", baseTime)
			require.ErrorIs(t, err, claim.ErrInvalidToken)
		})
	}
	assert.Zero(t, f.sender.count())

	receipt, err := f.svc.Claim(context.Background(), f.token(t, nil), "", baseTime)
	require.NoError(t, err)
	assert.Equal(t, receipt.TransactionID, purchases.rewards["PUR-1"])
	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, receipt.TransactionID, event.TransactionID)
	assert.Equal(t, "PUR-1", event.PurchaseID)
	assert.Equal(t, "5.00", event.Amount)
	assert.NotEmpty(t, event.EventID)
}

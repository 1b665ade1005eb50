package mempool

import (
	"context"
	"math/big"
	"testing"

	"forest/internal/types"
)

type fakeState struct {
	balances map[types.Address]*big.Int
	nonces   map[types.Address]uint64
}

func newFakeState() *fakeState {
	return &fakeState{balances: make(map[types.Address]*big.Int), nonces: make(map[types.Address]uint64)}
}

func (f *fakeState) BalanceOf(addr types.Address) (*big.Int, error) {
	if b, ok := f.balances[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeState) NonceOf(addr types.Address) (uint64, error) {
	return f.nonces[addr], nil
}

type alwaysValidVerifier struct{}

func (alwaysValidVerifier) VerifySignature(sig types.Signature, from types.Address, data []byte) bool {
	return true
}

func testAddr(t *testing.T, id uint64) types.Address {
	t.Helper()
	a, err := types.NewIDAddress(id)
	if err != nil {
		t.Fatalf("new id address: %v", err)
	}
	return a
}

func testMessage(from types.Address, nonce uint64, premium int64) *types.SignedMessage {
	return &types.SignedMessage{
		Message: types.Message{
			From:       from,
			To:         from,
			Nonce:      nonce,
			Value:      big.NewInt(0),
			GasLimit:   2000,
			GasFeeCap:  big.NewInt(premium + 10),
			GasPremium: big.NewInt(premium),
			Method:     0,
		},
		Signature: types.Signature{Type: types.SigSecp256k1, Data: []byte("sig")},
	}
}

func newTestPool(t *testing.T) (*Pool, *fakeState, types.Address) {
	t.Helper()
	state := newFakeState()
	from := testAddr(t, 100)
	state.balances[from] = big.NewInt(1_000_000_000)
	pool := NewPool(state, alwaysValidVerifier{})
	pool.SetBaseFee(big.NewInt(1))
	return pool, state, from
}

func TestAddAcceptsValidMessage(t *testing.T) {
	pool, _, from := newTestPool(t)
	sm := testMessage(from, 0, 5)
	if err := pool.Add(context.Background(), sm); err != nil {
		t.Fatalf("add: %v", err)
	}
	pending := pool.Pending(from)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
}

func TestAddRejectsLowNonce(t *testing.T) {
	pool, state, from := newTestPool(t)
	state.nonces[from] = 5
	sm := testMessage(from, 2, 5)
	if err := pool.Add(context.Background(), sm); err != ErrNonceLow {
		t.Fatalf("expected ErrNonceLow, got %v", err)
	}
}

func TestAddRejectsInsufficientFunds(t *testing.T) {
	pool, state, from := newTestPool(t)
	state.balances[from] = big.NewInt(1)
	sm := testMessage(from, 0, 5)
	if err := pool.Add(context.Background(), sm); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestAddReplaceByFeeRequiresMinimumIncrease(t *testing.T) {
	pool, _, from := newTestPool(t)
	if err := pool.Add(context.Background(), testMessage(from, 0, 10)); err != nil {
		t.Fatalf("add initial: %v", err)
	}
	if err := pool.Add(context.Background(), testMessage(from, 0, 11)); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate for insufficient premium bump, got %v", err)
	}
	if err := pool.Add(context.Background(), testMessage(from, 0, 13)); err != nil {
		t.Fatalf("expected replacement with sufficient premium bump to succeed: %v", err)
	}
	pending := pool.Pending(from)
	if len(pending) != 1 || pending[0].Message.GasPremium.Int64() != 13 {
		t.Fatalf("expected replaced message with premium 13, got %+v", pending)
	}
}

func TestAddRejectsSenderQueueFull(t *testing.T) {
	pool, _, from := newTestPool(t)
	pool.maxPendingPerSender = 2
	for i := uint64(0); i < 2; i++ {
		if err := pool.Add(context.Background(), testMessage(from, i, 5)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := pool.Add(context.Background(), testMessage(from, 2, 5)); err != ErrSenderQueueFull {
		t.Fatalf("expected ErrSenderQueueFull, got %v", err)
	}
}

func TestAddRejectsBadMessageCache(t *testing.T) {
	pool, _, from := newTestPool(t)
	sm := testMessage(from, 0, 5)
	c, err := sm.Cid()
	if err != nil {
		t.Fatalf("cid: %v", err)
	}
	pool.markBad(c)
	if err := pool.Add(context.Background(), sm); err != ErrBadMessage {
		t.Fatalf("expected ErrBadMessage, got %v", err)
	}
}

func TestSelectRespectsNonceContinuityAndPremiumOrder(t *testing.T) {
	pool, state, from := newTestPool(t)
	other := testAddr(t, 200)
	state.balances[other] = big.NewInt(1_000_000_000)

	ctx := context.Background()
	if err := pool.Add(ctx, testMessage(from, 0, 5)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := pool.Add(ctx, testMessage(from, 1, 20)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := pool.Add(ctx, testMessage(other, 0, 100)); err != nil {
		t.Fatalf("add: %v", err)
	}

	selected := pool.Select(MaxBlockGas)
	if len(selected) != 3 {
		t.Fatalf("expected 3 messages selected, got %d", len(selected))
	}
	if selected[0].Message.From != other || selected[0].Message.GasPremium.Int64() != 100 {
		t.Fatalf("expected other's high-premium message first, got %+v", selected[0].Message)
	}
}

func TestSelectSkipsSenderWithNonceGap(t *testing.T) {
	pool, state, from := newTestPool(t)
	state.nonces[from] = 0
	ctx := context.Background()
	if err := pool.Add(ctx, testMessage(from, 1, 50)); err != nil {
		t.Fatalf("add: %v", err)
	}
	selected := pool.Select(MaxBlockGas)
	if len(selected) != 0 {
		t.Fatalf("expected nonce-gapped message to be excluded, got %d", len(selected))
	}
}

func TestSelectRespectsGasLimit(t *testing.T) {
	pool, _, from := newTestPool(t)
	ctx := context.Background()
	for i := uint64(0); i < 5; i++ {
		if err := pool.Add(ctx, testMessage(from, i, int64(10-i))); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	selected := pool.Select(2000 * 2)
	if len(selected) != 2 {
		t.Fatalf("expected gas limit to cap selection at 2 messages, got %d", len(selected))
	}
}

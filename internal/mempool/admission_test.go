package mempool

import (
	"context"
	"math/big"
	"testing"

	"forest/internal/types"
)

// fakeMessageLoader resolves a tipset's messages by height, standing in
// for vm.MessageLoader without pulling in a blockstore.
type fakeMessageLoader struct {
	byHeight map[int64][]*types.SignedMessage
}

func (f *fakeMessageLoader) LoadTipsetMessages(_ context.Context, ts *types.Tipset) ([]*types.SignedMessage, []*types.SignedMessage, error) {
	return f.byHeight[ts.Height()], nil, nil
}

func testTipset(t *testing.T, height int64, ticket byte) *types.Tipset {
	t.Helper()
	miner, err := types.NewIDAddress(uint64(1000 + height))
	if err != nil {
		t.Fatalf("new miner address: %v", err)
	}
	ts, err := types.NewTipset([]*types.BlockHeader{{
		Miner:        miner,
		Ticket:       []byte{ticket},
		Height:       height,
		ParentWeight: big.NewInt(height),
	}})
	if err != nil {
		t.Fatalf("new tipset: %v", err)
	}
	return ts
}

func TestOnHeadChangeReinsertsRevertedMessages(t *testing.T) {
	pool, _, from := newTestPool(t)

	reverted := testTipset(t, 10, 1)
	sm := testMessage(from, 0, 5)
	loader := &fakeMessageLoader{byHeight: map[int64][]*types.SignedMessage{10: {sm}}}
	pool.SetMessageLoader(loader)

	pool.OnHeadChange(context.Background(), []*types.Tipset{reverted}, nil, big.NewInt(1))

	pending := pool.Pending(from)
	if len(pending) != 1 || pending[0].Message.Nonce != 0 {
		t.Fatalf("expected reverted message re-admitted, got %+v", pending)
	}
}

func TestOnHeadChangeDropsAppliedMessages(t *testing.T) {
	pool, _, from := newTestPool(t)

	sm := testMessage(from, 0, 5)
	if err := pool.Add(context.Background(), sm); err != nil {
		t.Fatalf("add: %v", err)
	}
	if pending := pool.Pending(from); len(pending) != 1 {
		t.Fatalf("expected 1 pending message before head change, got %d", len(pending))
	}

	applied := testTipset(t, 11, 2)
	loader := &fakeMessageLoader{byHeight: map[int64][]*types.SignedMessage{11: {sm}}}
	pool.SetMessageLoader(loader)

	pool.OnHeadChange(context.Background(), nil, []*types.Tipset{applied}, big.NewInt(1))

	if pending := pool.Pending(from); len(pending) != 0 {
		t.Fatalf("expected applied message dropped from pool, got %+v", pending)
	}
}

func TestOnHeadChangeWithoutLoaderIsNoop(t *testing.T) {
	pool, _, from := newTestPool(t)
	sm := testMessage(from, 0, 5)
	if err := pool.Add(context.Background(), sm); err != nil {
		t.Fatalf("add: %v", err)
	}

	applied := testTipset(t, 12, 3)
	pool.OnHeadChange(context.Background(), nil, []*types.Tipset{applied}, big.NewInt(1))

	if pending := pool.Pending(from); len(pending) != 1 {
		t.Fatalf("expected no-op without an installed loader, got %+v", pending)
	}
}

package sync

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"forest/internal/blockstore"
	"forest/internal/chainstore"
	"forest/internal/types"
)

func newTestChainstore(t *testing.T) *chainstore.Store {
	t.Helper()
	dir := t.TempDir()
	engine, _, err := blockstore.NewEngine(filepath.Join(dir, "blocks.db"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	bs := blockstore.NewLayeredStore(engine, nil, nil)
	cs, err := chainstore.New(bs, nil)
	if err != nil {
		t.Fatalf("new chainstore: %v", err)
	}
	return cs
}

func sentinelCid(t *testing.T) cid.Cid {
	t.Helper()
	c, err := cid.Decode("bafy2bzacea3wsukvmsrruf6zetbhtbn37sm3mgogwkjusqzumr6hmft3paxqo")
	if err != nil {
		t.Fatalf("decode sentinel cid: %v", err)
	}
	return c
}

func distinctCid(t *testing.T, seed string) cid.Cid {
	t.Helper()
	sum, err := mh.Sum([]byte(seed), mh.SHA2_256, -1)
	if err != nil {
		t.Fatalf("hash seed: %v", err)
	}
	return cid.NewCidV1(cid.DagCBOR, sum)
}

func mkAddr(t *testing.T, id uint64) types.Address {
	a, err := types.NewIDAddress(id)
	if err != nil {
		t.Fatalf("id addr: %v", err)
	}
	return a
}

type fakeFetcher struct {
	byKey map[string]*types.Tipset
}

func (f *fakeFetcher) GetTipset(ctx context.Context, key types.TipsetKey) (*types.Tipset, error) {
	ts, ok := f.byKey[key.String()]
	if !ok {
		return nil, fmt.Errorf("fake fetcher: no tipset for key %s", key)
	}
	return ts, nil
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, ts *types.Tipset) error { return nil }

type fakeExecutor struct {
	resultsByTsKey map[string][2]cid.Cid
}

func (f *fakeExecutor) ApplyTipset(ctx context.Context, ts *types.Tipset, parentStateRoot cid.Cid, ancestors []*types.Tipset) (cid.Cid, cid.Cid, error) {
	r, ok := f.resultsByTsKey[ts.Key().String()]
	if !ok {
		return cid.Undef, cid.Undef, nil
	}
	return r[0], r[1], nil
}

func TestSyncerDirectApplyNoBridge(t *testing.T) {
	ctx := context.Background()
	cs := newTestChainstore(t)

	genH := &types.BlockHeader{Miner: mkAddr(t, 1), Height: 0, Ticket: []byte{0}, ParentWeight: big.NewInt(0), ParentStateRoot: sentinelCid(t)}
	if _, err := cs.PutBlock(ctx, genH); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	gc, _ := genH.Cid()
	genesis, err := cs.LoadTipset(ctx, types.NewTipsetKey([]cid.Cid{gc}))
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if err := cs.SetGenesis(genesis); err != nil {
		t.Fatalf("set genesis: %v", err)
	}

	tH := &types.BlockHeader{Miner: mkAddr(t, 2), Height: 1, Parents: []cid.Cid{gc}, Ticket: []byte{1}, ParentWeight: big.NewInt(10), ParentStateRoot: sentinelCid(t)}
	target, err := types.NewTipset([]*types.BlockHeader{tH})
	if err != nil {
		t.Fatalf("new tipset: %v", err)
	}

	exec := &fakeExecutor{resultsByTsKey: map[string][2]cid.Cid{}}
	s := NewSyncer(cs, &fakeFetcher{byKey: map[string]*types.Tipset{}}, exec, nil, nil, nil)

	s.run(ctx, 1, Candidate{Tipset: target, Peer: "peerA"})

	if got := s.State(); got != Follow {
		t.Fatalf("expected Follow, got %s", got)
	}
	if !cs.Heaviest().Key().Equals(target.Key()) {
		t.Fatalf("expected heaviest to be target, got %s", cs.Heaviest().Key())
	}
}

func TestSyncerBridgesAndValidatesTwoHop(t *testing.T) {
	ctx := context.Background()
	cs := newTestChainstore(t)

	genH := &types.BlockHeader{Miner: mkAddr(t, 1), Height: 0, Ticket: []byte{0}, ParentWeight: big.NewInt(0), ParentStateRoot: sentinelCid(t)}
	if _, err := cs.PutBlock(ctx, genH); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	gc, _ := genH.Cid()
	genesis, err := cs.LoadTipset(ctx, types.NewTipsetKey([]cid.Cid{gc}))
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if err := cs.SetGenesis(genesis); err != nil {
		t.Fatalf("set genesis: %v", err)
	}

	aH := &types.BlockHeader{Miner: mkAddr(t, 2), Height: 1, Parents: []cid.Cid{gc}, Ticket: []byte{1}, ParentWeight: big.NewInt(10), ParentStateRoot: sentinelCid(t)}
	ac, _ := aH.Cid()
	a, err := types.NewTipset([]*types.BlockHeader{aH})
	if err != nil {
		t.Fatalf("new tipset a: %v", err)
	}

	rootA := sentinelCid(t)
	receiptsA := sentinelCid(t)

	bH := &types.BlockHeader{Miner: mkAddr(t, 3), Height: 2, Parents: []cid.Cid{ac}, Ticket: []byte{2}, ParentWeight: big.NewInt(20), ParentStateRoot: rootA, ParentMessageReceipts: receiptsA}
	b, err := types.NewTipset([]*types.BlockHeader{bH})
	if err != nil {
		t.Fatalf("new tipset b: %v", err)
	}

	fetcher := &fakeFetcher{byKey: map[string]*types.Tipset{
		a.Key().String(): a,
	}}
	exec := &fakeExecutor{resultsByTsKey: map[string][2]cid.Cid{
		a.Key().String(): {rootA, receiptsA},
	}}
	s := NewSyncer(cs, fetcher, exec, nil, nil, nil)

	s.run(ctx, 1, Candidate{Tipset: b, Peer: "peerB"})

	if got := s.State(); got != Follow {
		t.Fatalf("expected Follow, got %s", got)
	}
	if !cs.Heaviest().Key().Equals(b.Key()) {
		t.Fatalf("expected heaviest to be b, got %s", cs.Heaviest().Key())
	}
}

func TestSyncerRejectsStateMismatch(t *testing.T) {
	ctx := context.Background()
	cs := newTestChainstore(t)

	genH := &types.BlockHeader{Miner: mkAddr(t, 1), Height: 0, Ticket: []byte{0}, ParentWeight: big.NewInt(0), ParentStateRoot: sentinelCid(t)}
	if _, err := cs.PutBlock(ctx, genH); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	gc, _ := genH.Cid()
	genesis, err := cs.LoadTipset(ctx, types.NewTipsetKey([]cid.Cid{gc}))
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if err := cs.SetGenesis(genesis); err != nil {
		t.Fatalf("set genesis: %v", err)
	}

	aH := &types.BlockHeader{Miner: mkAddr(t, 2), Height: 1, Parents: []cid.Cid{gc}, Ticket: []byte{1}, ParentWeight: big.NewInt(10), ParentStateRoot: sentinelCid(t)}
	ac, _ := aH.Cid()
	a, err := types.NewTipset([]*types.BlockHeader{aH})
	if err != nil {
		t.Fatalf("new tipset a: %v", err)
	}

	// b claims a parent_state_root that the executor will not actually
	// produce for a — a deliberate mismatch.
	bH := &types.BlockHeader{Miner: mkAddr(t, 3), Height: 2, Parents: []cid.Cid{ac}, Ticket: []byte{2}, ParentWeight: big.NewInt(20), ParentStateRoot: sentinelCid(t), ParentMessageReceipts: sentinelCid(t)}
	bc, _ := bH.Cid()
	b, err := types.NewTipset([]*types.BlockHeader{bH})
	if err != nil {
		t.Fatalf("new tipset b: %v", err)
	}

	fetcher := &fakeFetcher{byKey: map[string]*types.Tipset{
		a.Key().String(): a,
	}}
	// executor reports a completely different resulting root for a than
	// what b declares as its parent_state_root.
	actualRootA := distinctCid(t, "actual-root-for-a")
	exec := &fakeExecutor{resultsByTsKey: map[string][2]cid.Cid{
		a.Key().String(): {actualRootA, actualRootA},
	}}
	s := NewSyncer(cs, fetcher, exec, nil, nil, nil)

	s.run(ctx, 1, Candidate{Tipset: b, Peer: "peerC"})

	if got := s.State(); got != Stalled {
		t.Fatalf("expected Stalled after rejection, got %s", got)
	}
	if _, bad := cs.IsBad(bc); !bad {
		t.Fatalf("expected b's block to be marked bad")
	}
}

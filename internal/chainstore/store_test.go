package chainstore

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"

	"forest/internal/blockstore"
	"forest/internal/types"
)

func newTestStore(t *testing.T) (*Store, blockstore.Store) {
	t.Helper()
	dir := t.TempDir()
	engine, _, err := blockstore.NewEngine(filepath.Join(dir, "blocks.db"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	bs := blockstore.NewLayeredStore(engine, nil, nil)
	cs, err := New(bs, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return cs, bs
}

func putHeader(t *testing.T, ctx context.Context, cs *Store, h *types.BlockHeader) cid.Cid {
	t.Helper()
	c, err := cs.PutBlock(ctx, h)
	if err != nil {
		t.Fatalf("put block: %v", err)
	}
	return c
}

func mkMiner(t *testing.T, id uint64) types.Address {
	a, err := types.NewIDAddress(id)
	if err != nil {
		t.Fatalf("id addr: %v", err)
	}
	return a
}

func TestGenesisAndLoadTipset(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestStore(t)

	genH := &types.BlockHeader{Miner: mkMiner(t, 1), Height: 0, Ticket: []byte{0}, ParentWeight: big.NewInt(0), ParentStateRoot: sentinelCid(t)}
	putHeader(t, ctx, cs, genH)
	gc, _ := genH.Cid()
	genesis, err := cs.LoadTipset(ctx, types.NewTipsetKey([]cid.Cid{gc}))
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if err := cs.SetGenesis(genesis); err != nil {
		t.Fatalf("set genesis: %v", err)
	}

	hc, err := cs.SetHeaviest(ctx, genesis)
	if err != nil {
		t.Fatalf("set heaviest: %v", err)
	}
	if len(hc.Apply) != 1 || len(hc.Revert) != 0 {
		t.Fatalf("expected single apply for first head, got %+v", hc)
	}
}

func TestSetHeaviestReorgPath(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestStore(t)

	genH := &types.BlockHeader{Miner: mkMiner(t, 1), Height: 0, Ticket: []byte{0}, ParentWeight: big.NewInt(0), ParentStateRoot: sentinelCid(t)}
	putHeader(t, ctx, cs, genH)
	gc, _ := genH.Cid()
	genesis, _ := cs.LoadTipset(ctx, types.NewTipsetKey([]cid.Cid{gc}))
	_ = cs.SetGenesis(genesis)
	if _, err := cs.SetHeaviest(ctx, genesis); err != nil {
		t.Fatalf("set genesis head: %v", err)
	}

	aH := &types.BlockHeader{Miner: mkMiner(t, 2), Height: 1, Parents: []cid.Cid{gc}, Ticket: []byte{1}, ParentWeight: big.NewInt(10), ParentStateRoot: sentinelCid(t)}
	putHeader(t, ctx, cs, aH)
	ac, _ := aH.Cid()
	a, _ := cs.LoadTipset(ctx, types.NewTipsetKey([]cid.Cid{ac}))
	if _, err := cs.SetHeaviest(ctx, a); err != nil {
		t.Fatalf("set A head: %v", err)
	}

	bH := &types.BlockHeader{Miner: mkMiner(t, 3), Height: 1, Parents: []cid.Cid{gc}, Ticket: []byte{2}, ParentWeight: big.NewInt(20), ParentStateRoot: sentinelCid(t)}
	putHeader(t, ctx, cs, bH)
	bc, _ := bH.Cid()
	b, _ := cs.LoadTipset(ctx, types.NewTipsetKey([]cid.Cid{bc}))

	hc, err := cs.SetHeaviest(ctx, b)
	if err != nil {
		t.Fatalf("set B head: %v", err)
	}
	if len(hc.Revert) != 1 || len(hc.Apply) != 1 {
		t.Fatalf("expected one revert and one apply, got revert=%d apply=%d", len(hc.Revert), len(hc.Apply))
	}
	if !hc.Revert[0].Key().Equals(a.Key()) {
		t.Fatalf("expected revert of A, got %s", hc.Revert[0].Key())
	}
	if !hc.Apply[0].Key().Equals(b.Key()) {
		t.Fatalf("expected apply of B, got %s", hc.Apply[0].Key())
	}
}

// sentinelCid returns a stable non-undef CID to stand in for a state root
// in tests that don't exercise VM execution.
func sentinelCid(t *testing.T) cid.Cid {
	t.Helper()
	c, err := cid.Decode("bafy2bzacea3wsukvmsrruf6zetbhtbn37sm3mgogwkjusqzumr6hmft3paxqo")
	if err != nil {
		t.Fatalf("decode sentinel cid: %v", err)
	}
	return c
}

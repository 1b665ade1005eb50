package exchange

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p"
	host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"forest/internal/blockstore"
	"forest/internal/chainstore"
	"forest/internal/types"
)

func newHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func mkAddr(t *testing.T, id uint64) types.Address {
	a, err := types.NewIDAddress(id)
	if err != nil {
		t.Fatalf("id addr: %v", err)
	}
	return a
}

func sentinelCid(t *testing.T) cid.Cid {
	t.Helper()
	c, err := cid.Decode("bafy2bzacea3wsukvmsrruf6zetbhtbn37sm3mgogwkjusqzumr6hmft3paxqo")
	if err != nil {
		t.Fatalf("decode sentinel cid: %v", err)
	}
	return c
}

func TestChainExchangeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

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

	serverHost := newHost(t)
	clientHost := newHost(t)

	serverInfo := peer.AddrInfo{ID: serverHost.ID(), Addrs: serverHost.Addrs()}
	if err := clientHost.Connect(ctx, serverInfo); err != nil {
		t.Fatalf("connect: %v", err)
	}

	server := NewServer(cs, nil, nil)
	server.Register(serverHost)

	client := NewClient(clientHost, nil, nil)
	bundles, err := client.Request(ctx, serverHost.ID(), Request{Anchor: genesis.Key(), Count: 1, Options: Options{Headers: true}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(bundles))
	}
	headers, _, _, err := bundles[0].Decode()
	if err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if len(headers) != 1 {
		t.Fatalf("expected 1 header, got %d", len(headers))
	}
	gotCid, err := headers[0].Cid()
	if err != nil {
		t.Fatalf("header cid: %v", err)
	}
	if !gotCid.Equals(gc) {
		t.Fatalf("got header cid %s, want %s", gotCid, gc)
	}
}

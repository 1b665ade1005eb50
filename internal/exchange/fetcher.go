package exchange

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"

	"forest/internal/blockstore"
	"forest/internal/types"
)

// PeerLister returns the current set of peers worth asking, best first
// (e.g. highest-trust or most-recently-responsive).
type PeerLister func() []peer.ID

// PeerFetcher adapts Client to the sync.Fetcher interface, trying peers in
// the order PeerLister returns them and persisting fetched message bytes
// into the local blockstore so the VM layer can resolve them by CID.
type PeerFetcher struct {
	client *Client
	peers  PeerLister
	bs     blockstore.Store
}

func NewPeerFetcher(client *Client, peers PeerLister, bs blockstore.Store) *PeerFetcher {
	return &PeerFetcher{client: client, peers: peers, bs: bs}
}

func (f *PeerFetcher) GetTipset(ctx context.Context, key types.TipsetKey) (*types.Tipset, error) {
	return f.client.GetTipset(ctx, key, f.peers())
}

// FetchMessages re-requests ts's bundle with Messages set and stores every
// returned BLS/Secp message's canonical bytes under its own CID, so later
// VM execution can load them directly from the blockstore.
func (f *PeerFetcher) FetchMessages(ctx context.Context, ts *types.Tipset) error {
	var lastErr error
	for _, p := range f.peers() {
		bundles, err := f.client.Request(ctx, p, Request{Anchor: ts.Key(), Count: 1, Options: Options{Messages: true}})
		if err != nil {
			lastErr = err
			continue
		}
		_, bls, secp, err := bundles[0].Decode()
		if err != nil {
			lastErr = err
			continue
		}
		if err := f.storeMessages(ctx, bls); err != nil {
			return err
		}
		if err := f.storeMessages(ctx, secp); err != nil {
			return err
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("exchange: no peers available to fetch messages")
	}
	return lastErr
}

func (f *PeerFetcher) storeMessages(ctx context.Context, msgs []*types.SignedMessage) error {
	for _, m := range msgs {
		c, err := m.Cid()
		if err != nil {
			return err
		}
		data, err := types.Encode(m)
		if err != nil {
			return err
		}
		if err := f.bs.Put(ctx, c, data); err != nil {
			return err
		}
	}
	return nil
}

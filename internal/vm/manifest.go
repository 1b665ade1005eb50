package vm

import (
	"context"

	"github.com/ipfs/go-cid"
	cbornode "github.com/ipfs/go-ipld-cbor"
	"github.com/pkg/errors"

	"forest/internal/blockstore"
	"forest/internal/types"
)

// messageManifest is the object a block header's Messages field points at:
// the deduplicated, per-block ordered CID lists of its BLS and Secp
// messages. §6 requires every IPLD object to be DAG-CBOR tuple-encoded and
// re-hashable into its own CID; a manifest is just another such object
// rather than a full AMT, a simplification recorded in DESIGN.md.
type messageManifest struct {
	Bls  []cid.Cid
	Secp []cid.Cid
}

func init() {
	cbornode.RegisterCborType(messageManifest{})
}

func (m messageManifest) cid() (cid.Cid, error) {
	nd, err := cbornode.WrapObject(m, types.DefaultMultihash, -1)
	if err != nil {
		return cid.Undef, err
	}
	return nd.Cid(), nil
}

// storeManifest persists msgs and their manifest, returning the manifest's
// CID for use as a header's Messages field.
func storeManifest(ctx context.Context, bs blockstore.Store, bls, secp []*types.SignedMessage) (cid.Cid, error) {
	m := messageManifest{}
	for _, sm := range bls {
		c, err := sm.Cid()
		if err != nil {
			return cid.Undef, err
		}
		data, err := types.Encode(sm)
		if err != nil {
			return cid.Undef, err
		}
		if err := bs.Put(ctx, c, data); err != nil {
			return cid.Undef, err
		}
		m.Bls = append(m.Bls, c)
	}
	for _, sm := range secp {
		c, err := sm.Cid()
		if err != nil {
			return cid.Undef, err
		}
		data, err := types.Encode(sm)
		if err != nil {
			return cid.Undef, err
		}
		if err := bs.Put(ctx, c, data); err != nil {
			return cid.Undef, err
		}
		m.Secp = append(m.Secp, c)
	}
	data, err := types.Encode(m)
	if err != nil {
		return cid.Undef, err
	}
	c, err := m.cid()
	if err != nil {
		return cid.Undef, err
	}
	if err := bs.Put(ctx, c, data); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

func loadManifest(ctx context.Context, bs blockstore.Store, manifest cid.Cid) (messageManifest, error) {
	var m messageManifest
	if !manifest.Defined() {
		return m, nil
	}
	data, err := bs.Get(ctx, manifest)
	if err != nil {
		return m, errors.Wrap(err, "load message manifest")
	}
	if err := types.Decode(data, &m); err != nil {
		return m, errors.Wrap(err, "decode message manifest")
	}
	return m, nil
}

func loadMessages(ctx context.Context, bs blockstore.Store, cids []cid.Cid) ([]*types.SignedMessage, error) {
	out := make([]*types.SignedMessage, 0, len(cids))
	for _, c := range cids {
		data, err := bs.Get(ctx, c)
		if err != nil {
			return nil, errors.Wrapf(err, "load message %s", c)
		}
		var sm types.SignedMessage
		if err := types.Decode(data, &sm); err != nil {
			return nil, errors.Wrapf(err, "decode message %s", c)
		}
		out = append(out, &sm)
	}
	return out, nil
}

// MessageLoader implements internal/exchange.MessageProvider by resolving
// each block's manifest and message bodies from the local blockstore.
type MessageLoader struct {
	bs blockstore.Store
}

func NewMessageLoader(bs blockstore.Store) *MessageLoader {
	return &MessageLoader{bs: bs}
}

// LoadTipsetMessages returns the tipset's deduplicated BLS/Secp messages in
// canonical order: per-block BLS before Secp, interleaved round-robin
// across blocks in the tipset's ticket-sorted order, each unique CID
// included once, per §4.6.
func (l *MessageLoader) LoadTipsetMessages(ctx context.Context, ts *types.Tipset) ([]*types.SignedMessage, []*types.SignedMessage, error) {
	blsOrder, secpOrder, err := canonicalMessageOrder(ctx, l.bs, ts)
	if err != nil {
		return nil, nil, err
	}
	bls, err := loadMessages(ctx, l.bs, blsOrder)
	if err != nil {
		return nil, nil, err
	}
	secp, err := loadMessages(ctx, l.bs, secpOrder)
	if err != nil {
		return nil, nil, err
	}
	return bls, secp, nil
}

// canonicalMessageOrder returns the deduplicated BLS and Secp CID sequences
// for ts in the §4.6 canonical order.
func canonicalMessageOrder(ctx context.Context, bs blockstore.Store, ts *types.Tipset) ([]cid.Cid, []cid.Cid, error) {
	var perBlockBls, perBlockSecp [][]cid.Cid
	for _, b := range ts.Blocks() {
		m, err := loadManifest(ctx, bs, b.Messages)
		if err != nil {
			return nil, nil, err
		}
		perBlockBls = append(perBlockBls, m.Bls)
		perBlockSecp = append(perBlockSecp, m.Secp)
	}
	bls := interleaveDedup(perBlockBls)
	secp := interleaveDedup(perBlockSecp)
	return bls, secp, nil
}

// interleaveDedup round-robins across per-block CID lists, keeping only the
// first occurrence of each CID, per §4.6's "skipping duplicates" rule.
func interleaveDedup(perBlock [][]cid.Cid) []cid.Cid {
	seen := make(map[string]bool)
	var out []cid.Cid
	idx := make([]int, len(perBlock))
	for {
		progressed := false
		for b := range perBlock {
			if idx[b] >= len(perBlock[b]) {
				continue
			}
			c := perBlock[b][idx[b]]
			idx[b]++
			progressed = true
			key := c.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
		if !progressed {
			break
		}
	}
	return out
}

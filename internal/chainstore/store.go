// Package chainstore implements §4.2: the tipset graph, genesis and
// heaviest-tipset pointers, the height index, and the bad-block set. It is
// grounded on the teacher's core/ledger.go (open/replay/durable-pointer
// shape, logrus logging, mutex-guarded mutation) and on the retrieved
// go-filecoin chain.Store (github.com/cskr/pubsub head-change stream,
// LRU-cached tipset resolution).
package chainstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cskr/pubsub"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"forest/internal/blockstore"
	"forest/internal/types"
)

const headChangeTopic = "head"

// HeadChange is the totally-ordered reorg description from §4.2: a
// sequence of reverts from the old head down to the common ancestor,
// followed by applies up to the new head.
type HeadChange struct {
	Revert []*types.Tipset
	Apply  []*types.Tipset
}

// Store owns the two mutable pointers described in §3: genesis_cid
// (write-once) and heaviest_tipset_key (monotonic in weight, replaced
// under the reorg protocol in set_heaviest).
type Store struct {
	bs  blockstore.Store
	log *logrus.Entry

	mu             sync.RWMutex
	genesis        types.TipsetKey
	heaviest       *types.Tipset
	heightIndex    map[int64][]types.TipsetKey
	badBlocks      *lru.Cache[cid.Cid, string]
	tipsetCache    *lru.Cache[string, *types.Tipset]

	headEvents *pubsub.PubSub
}

func New(bs blockstore.Store, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	bad, err := lru.New[cid.Cid, string](4096)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *types.Tipset](1024)
	if err != nil {
		return nil, err
	}
	return &Store{
		bs:          bs,
		log:         log.WithField("component", "chainstore"),
		heightIndex: make(map[int64][]types.TipsetKey),
		badBlocks:   bad,
		tipsetCache: cache,
		headEvents:  pubsub.New(256),
	}, nil
}

// SetGenesis records the write-once genesis tipset key.
func (s *Store) SetGenesis(ts *types.Tipset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.genesis.Equals(types.TipsetKey{}) {
		return errors.New("chainstore: genesis already set")
	}
	s.genesis = ts.Key()
	s.indexLocked(ts)
	s.log.WithField("genesis", ts.Key().String()).Info("genesis recorded")
	return nil
}

func (s *Store) Genesis() types.TipsetKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genesis
}

// PutBlock validates a header's internal shape (not consensus — §4.2
// explicitly scopes that out) and stores it. It does not touch the height
// index, which only SetGenesis, SetHeaviest and Index update.
func (s *Store) PutBlock(ctx context.Context, h *types.BlockHeader) (cid.Cid, error) {
	if h.Height < 0 {
		return cid.Undef, errors.New("chainstore: negative height")
	}
	if h.ParentStateRoot == cid.Undef {
		return cid.Undef, errors.New("chainstore: missing parent state root")
	}
	data, err := types.Encode(h)
	if err != nil {
		return cid.Undef, errors.Wrap(err, "encode header")
	}
	c, err := h.Cid()
	if err != nil {
		return cid.Undef, err
	}
	if err := s.bs.Put(ctx, c, data); err != nil {
		return cid.Undef, errors.Wrap(err, "store header")
	}
	return c, nil
}

// LoadTipset materializes a Tipset for key from the blockstore, failing on
// a missing block, malformed shape, or parent mismatch, per §4.2.
func (s *Store) LoadTipset(ctx context.Context, key types.TipsetKey) (*types.Tipset, error) {
	if cached, ok := s.tipsetCache.Get(key.String()); ok {
		return cached, nil
	}
	headers := make([]*types.BlockHeader, 0, len(key.Cids()))
	for _, c := range key.Cids() {
		data, err := s.bs.Get(ctx, c)
		if err != nil {
			return nil, errors.Wrapf(err, "load block %s", c)
		}
		var h types.BlockHeader
		if err := types.Decode(data, &h); err != nil {
			return nil, errors.Wrapf(err, "decode block %s", c)
		}
		headers = append(headers, &h)
	}
	ts, err := types.NewTipset(headers)
	if err != nil {
		return nil, errors.Wrap(err, "assemble tipset")
	}
	s.tipsetCache.Add(key.String(), ts)
	return ts, nil
}

func (s *Store) Heaviest() *types.Tipset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heaviest
}

// MarkBad records c as invalid for the lifetime of this process (§4.4/§7:
// "run-local bad-block set"), so descendants and re-adverts are rejected
// without further network I/O.
func (s *Store) MarkBad(c cid.Cid, reason string) {
	s.badBlocks.Add(c, reason)
}

func (s *Store) IsBad(c cid.Cid) (string, bool) {
	return s.badBlocks.Get(c)
}

func (s *Store) indexLocked(ts *types.Tipset) {
	s.heightIndex[ts.Height()] = append(s.heightIndex[ts.Height()], ts.Key())
}

// Index records ts in the height index without changing the head pointer;
// called as the synchronizer validates each tipset in a bridge.
func (s *Store) Index(ts *types.Tipset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexLocked(ts)
}

// AncestorAt walks parents from ts toward genesis, honoring null rounds:
// it returns the nearest non-null ancestor at or above height, per §4.2.
func (s *Store) AncestorAt(ctx context.Context, ts *types.Tipset, height int64) (*types.Tipset, error) {
	cur := ts
	for cur.Height() > height {
		if len(cur.Parents()) == 0 {
			return nil, fmt.Errorf("chainstore: reached genesis before height %d", height)
		}
		parentKey := types.NewTipsetKey(cur.Parents())
		parent, err := s.LoadTipset(ctx, parentKey)
		if err != nil {
			return nil, err
		}
		if parent.Height() < height {
			break // height is a null round: cur is the nearest tipset above it
		}
		cur = parent
	}
	return cur, nil
}

func (s *Store) SubscribeHeadChanges() (chan interface{}, func()) {
	ch := s.headEvents.Sub(headChangeTopic)
	return ch, func() { s.headEvents.Unsub(ch, headChangeTopic) }
}

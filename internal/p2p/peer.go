package p2p

import (
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerTable tracks connected peers, generalizing the teacher's
// core.Node.peers map (keyed by NodeID, guarded by peerLock) to a
// libp2p-native peer.ID key.
type PeerTable struct {
	mu     sync.RWMutex
	target int
	ids    map[peer.ID]struct{}
}

func NewPeerTable(target int) *PeerTable {
	return &PeerTable{target: target, ids: make(map[peer.ID]struct{})}
}

func (t *PeerTable) Add(p peer.ID) {
	t.mu.Lock()
	t.ids[p] = struct{}{}
	t.mu.Unlock()
}

func (t *PeerTable) Remove(p peer.ID) {
	t.mu.Lock()
	delete(t.ids, p)
	t.mu.Unlock()
}

func (t *PeerTable) Has(p peer.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[p]
	return ok
}

func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// Ranked returns every known, non-banned peer ordered best-score-first, per
// §4.4's "pool of known tipset candidates scored by... peer-trust" rule.
func (t *PeerTable) Ranked(scorer *Scorer) []peer.ID {
	t.mu.RLock()
	out := make([]peer.ID, 0, len(t.ids))
	for p := range t.ids {
		if scorer == nil || !scorer.Banned(p.String()) {
			out = append(out, p)
		}
	}
	t.mu.RUnlock()

	if scorer == nil {
		return out
	}
	sort.Slice(out, func(i, j int) bool {
		return scorer.Score(out[i].String()) > scorer.Score(out[j].String())
	})
	return out
}

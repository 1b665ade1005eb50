package types

import (
	"math/big"
	"sort"

	"github.com/ipfs/go-cid"
)

// BeaconEntry is a single drand round consumed by a block header.
type BeaconEntry struct {
	Round     uint64
	Signature []byte
}

// BlockHeader is the canonical §3 block header. Field order here is the
// field order serialized on the wire (DAG-CBOR tuple encoding, §6) and must
// never change without a network-version bump.
type BlockHeader struct {
	Miner               Address
	Ticket              []byte
	ElectionProof       []byte
	BeaconEntries       []BeaconEntry
	WinPoStProof        [][]byte
	Parents             []cid.Cid
	ParentWeight        *big.Int
	Height              int64
	ParentStateRoot     cid.Cid
	ParentMessageReceipts cid.Cid
	Messages            cid.Cid
	BLSAggregate        Signature
	Timestamp           uint64
	BlockSig            Signature
	ForkSignaling       uint64
	ParentBaseFee       *big.Int
}

// Cid is the header's content address; every downstream structure (tipset
// keys, bad-block sets, chain-exchange responses) refers to blocks by this
// value alone, so hashing must be deterministic across platforms.
func (h *BlockHeader) Cid() (cid.Cid, error) {
	return cidOf(h)
}

func cidOf(obj interface{}) (cid.Cid, error) {
	b, err := Encode(obj)
	if err != nil {
		return cid.Undef, err
	}
	return cidFromBytes(b)
}

// TipsetKey is the set of header CIDs sharing (height, parents,
// parent_weight). NewTipsetKey sorts the CIDs by their string form, so any
// permutation of the same CIDs yields an equal key; it does not order by
// ticket and does not remove duplicates.
type TipsetKey struct {
	cids []cid.Cid
}

func NewTipsetKey(cids []cid.Cid) TipsetKey {
	out := make([]cid.Cid, len(cids))
	copy(out, cids)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return TipsetKey{cids: out}
}

func (k TipsetKey) Cids() []cid.Cid { return k.cids }

func (k TipsetKey) String() string {
	s := ""
	for i, c := range k.cids {
		if i > 0 {
			s += ","
		}
		s += c.String()
	}
	return s
}

func (k TipsetKey) Equals(o TipsetKey) bool {
	if len(k.cids) != len(o.cids) {
		return false
	}
	for i := range k.cids {
		if !k.cids[i].Equals(o.cids[i]) {
			return false
		}
	}
	return true
}

// Tipset is the resolved set of headers for a TipsetKey, ticket-sorted per
// §3 so that selection and iteration order is a pure function of header
// bytes.
type Tipset struct {
	blocks []*BlockHeader
	key    TipsetKey
}

// NewTipset validates and constructs a Tipset from a set of headers,
// enforcing the §3 invariants: shared height/parents, no duplicate miners,
// at least one block, deterministic ticket order.
func NewTipset(blocks []*BlockHeader) (*Tipset, error) {
	if len(blocks) == 0 {
		return nil, errEmptyTipset
	}
	h := blocks[0].Height
	var parents []cid.Cid
	seenMiner := map[Address]bool{}
	cids := make([]cid.Cid, len(blocks))
	for i, b := range blocks {
		if b.Height != h {
			return nil, errMixedHeight
		}
		if i == 0 {
			parents = b.Parents
		} else if !sameParents(parents, b.Parents) {
			return nil, errMixedParents
		}
		if seenMiner[b.Miner] {
			return nil, errDuplicateMiner
		}
		seenMiner[b.Miner] = true
		c, err := b.Cid()
		if err != nil {
			return nil, err
		}
		cids[i] = c
	}
	sorted := append([]*BlockHeader{}, blocks...)
	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := string(sorted[i].Ticket), string(sorted[j].Ticket)
		if ti != tj {
			return ti < tj
		}
		ci, _ := sorted[i].Cid()
		cj, _ := sorted[j].Cid()
		return ci.String() < cj.String()
	})
	return &Tipset{blocks: sorted, key: NewTipsetKey(cids)}, nil
}

func (t *Tipset) Key() TipsetKey          { return t.key }
func (t *Tipset) Height() int64           { return t.blocks[0].Height }
func (t *Tipset) Parents() []cid.Cid      { return t.blocks[0].Parents }
func (t *Tipset) ParentWeight() *big.Int  { return t.blocks[0].ParentWeight }
func (t *Tipset) Blocks() []*BlockHeader  { return t.blocks }
func (t *Tipset) MinTimestamp() uint64 {
	min := t.blocks[0].Timestamp
	for _, b := range t.blocks[1:] {
		if b.Timestamp < min {
			min = b.Timestamp
		}
	}
	return min
}

func sameParents(a, b []cid.Cid) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

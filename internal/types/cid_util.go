package types

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// cidFromBytes hashes already-canonical bytes into a CIDv1 with the
// dag-cbor codec, mirroring cbornode.Node's own derivation so that
// independently-computed CIDs (e.g. in tests) agree with the blockstore.
func cidFromBytes(b []byte) (cid.Cid, error) {
	sum, err := mh.Sum(b, DefaultMultihash, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagCBOR, sum), nil
}

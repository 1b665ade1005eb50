package vm

import (
	"encoding/binary"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"forest/internal/types"
)

// cidFromString derives a CIDv1 dag-cbor CID from an arbitrary byte string,
// used to mint stable identifiers for built-in actor code (actorCodeCID)
// that don't correspond to any actual stored IPLD object.
func cidFromString(s string) (cid.Cid, error) {
	sum, err := mh.Sum([]byte(s), types.DefaultMultihash, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagCBOR, sum), nil
}

// wrapNode hashes already-canonical bytes into a CIDv1 dag-cbor CID,
// mirroring types.Encode's own hashing path so actor-private state blobs
// resolve to the same CID a receiver would independently recompute.
func wrapNode(data []byte) (cid.Cid, error) {
	sum, err := mh.Sum(data, types.DefaultMultihash, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagCBOR, sum), nil
}

// uvarint decodes a binary.PutUvarint-encoded actor ID from an address
// payload (types.NewIDAddress's own encoding).
func uvarint(b []byte) (uint64, int) {
	return binary.Uvarint(b)
}

package types

import (
	cbornode "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
)

// DefaultMultihash is the hash function used to derive CIDs for every
// IPLD object this node writes: blake2b-256, matching the hash width the
// rest of the runtime (address derivation, state tree keys) already uses.
const DefaultMultihash = mh.BLAKE2B_MIN + 31

func init() {
	cbornode.RegisterCborType(Address{})
	cbornode.RegisterCborType(Message{})
	cbornode.RegisterCborType(SignedMessage{})
	cbornode.RegisterCborType(Signature{})
	cbornode.RegisterCborType(BlockHeader{})
	cbornode.RegisterCborType(BeaconEntry{})
	cbornode.RegisterCborType(Receipt{})
	cbornode.RegisterCborType(ActorRecord{})
}

// Decode unmarshals canonical CBOR bytes into obj and, as a content-
// determinism check, must be the exact inverse of whatever Marshal path
// produced those bytes (§3: "Canonical invariant: content determinism").
func Decode(data []byte, obj interface{}) error {
	return cbornode.DecodeInto(data, obj)
}

// Encode returns the canonical CBOR encoding of obj.
func Encode(obj interface{}) ([]byte, error) {
	return cbornode.DumpObject(obj)
}

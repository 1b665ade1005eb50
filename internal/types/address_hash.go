package types

import (
	"encoding/base32"

	"golang.org/x/crypto/blake2b"
)

var addrEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// addressHash returns the 20-byte blake2b digest used to derive Secp256k1
// and Actor protocol addresses from their seed material.
func addressHash(data []byte) [20]byte {
	h, _ := blake2b.New(20, nil)
	h.Write(data)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// checksummed renders an address's payload with its 4-byte blake2b checksum
// appended, base32-encoded, matching the canonical display form.
func checksummed(a Address) string {
	h, _ := blake2b.New(4, nil)
	h.Write([]byte{byte(a.Proto)})
	h.Write(a.Data[:a.Len])
	sum := h.Sum(nil)
	buf := append(append([]byte{}, a.Data[:a.Len]...), sum...)
	return addrEncoding.EncodeToString(buf)
}

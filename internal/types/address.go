package types

// Address is a tagged union over the five Filecoin address protocols. Unlike
// the teacher's fixed [20]byte account identifier (core/common_structs.go),
// a protocol byte plus a variable-length payload is required here since BLS
// keys, Secp256k1 key hashes, actor-id integers, and delegated (f4)
// addresses all round-trip through the same wire type.
//
// Equality and map-keying rely on Address being comparable, so the payload
// is stored in a fixed-size array sized for the largest protocol (BLS, 48
// bytes) with an explicit length rather than a slice.

import (
	"encoding/binary"
	"fmt"
)

// Protocol identifies which address variant Payload holds.
type Protocol byte

const (
	ProtocolID Protocol = iota
	ProtocolSecp256k1
	ProtocolActor
	ProtocolBLS
	ProtocolDelegated
)

const maxPayload = 48

// Address is comparable and safe to use as a map key or struct field. Its
// fields are exported under names distinct from the Protocol()/Payload()
// accessor methods so that reflection-based CBOR encoding (cbornode's
// struct atlas, which — like encoding/json — only sees exported fields)
// can serialize an Address wherever it's embedded in another wire type
// (BlockHeader, Message), without a separate wire-mirror struct.
type Address struct {
	Proto Protocol
	Len   uint8
	Data  [maxPayload]byte
	// NS is only meaningful for ProtocolDelegated; it holds the actor ID
	// of the namespace actor (e.g. the EAM) the subaddress is scoped to.
	NS uint64
}

var Undef = Address{}

func (a Address) Protocol() Protocol { return a.Proto }

func (a Address) Payload() []byte {
	return a.Data[:a.Len]
}

func (a Address) Empty() bool { return a.Proto == ProtocolID && a.Len == 0 && a.NS == 0 }

// NewIDAddress builds an f0.. actor-id address.
func NewIDAddress(id uint64) (Address, error) {
	var buf [8]byte
	n := binary.PutUvarint(buf[:], id)
	return newAddress(ProtocolID, buf[:n], 0)
}

// NewSecp256k1Address hashes a public key and builds an f1.. address.
func NewSecp256k1Address(pubKey []byte) (Address, error) {
	h := addressHash(pubKey)
	return newAddress(ProtocolSecp256k1, h[:], 0)
}

// NewActorAddress builds an f2.. address from the hash of actor-creation input.
func NewActorAddress(data []byte) (Address, error) {
	h := addressHash(data)
	return newAddress(ProtocolActor, h[:], 0)
}

// NewBLSAddress builds an f3.. address from a 48-byte BLS public key.
func NewBLSAddress(pubKey []byte) (Address, error) {
	if len(pubKey) != 48 {
		return Undef, fmt.Errorf("bls public key must be 48 bytes, got %d", len(pubKey))
	}
	return newAddress(ProtocolBLS, pubKey, 0)
}

// NewDelegatedAddress builds an f4.. address scoped to the given namespace actor.
func NewDelegatedAddress(namespace uint64, subaddr []byte) (Address, error) {
	if len(subaddr) > 54 {
		return Undef, fmt.Errorf("delegated subaddress too long: %d bytes", len(subaddr))
	}
	a, err := newAddress(ProtocolDelegated, subaddr, namespace)
	return a, err
}

func newAddress(p Protocol, payload []byte, ns uint64) (Address, error) {
	if len(payload) > maxPayload {
		return Undef, fmt.Errorf("address payload too long for protocol %d: %d bytes", p, len(payload))
	}
	var a Address
	a.Proto = p
	a.Len = uint8(len(payload))
	copy(a.Data[:], payload)
	a.NS = ns
	return a, nil
}

// Bytes returns the canonical wire encoding of the address: a protocol
// byte followed by the payload (namespace-prefixed for delegated
// addresses). Anything that needs an address inside a context cbornode's
// struct-atlas reflection doesn't reach — actor private state, message
// params — goes through Bytes/AddressFromBytes instead.
func (a Address) Bytes() []byte {
	if a.Proto == ProtocolDelegated {
		var nsBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(nsBuf[:], a.NS)
		buf := make([]byte, 0, 1+n+int(a.Len))
		buf = append(buf, byte(a.Proto))
		buf = append(buf, nsBuf[:n]...)
		return append(buf, a.Data[:a.Len]...)
	}
	buf := make([]byte, 0, 1+int(a.Len))
	buf = append(buf, byte(a.Proto))
	return append(buf, a.Data[:a.Len]...)
}

// AddressFromBytes is the inverse of Bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) == 0 {
		return Undef, fmt.Errorf("address: empty bytes")
	}
	p := Protocol(b[0])
	rest := b[1:]
	if p == ProtocolDelegated {
		ns, n := binary.Uvarint(rest)
		if n <= 0 {
			return Undef, fmt.Errorf("address: invalid delegated namespace")
		}
		return newAddress(p, rest[n:], ns)
	}
	return newAddress(p, rest, 0)
}

func (a Address) String() string {
	switch a.Proto {
	case ProtocolID:
		id, _ := binary.Uvarint(a.Data[:a.Len])
		return fmt.Sprintf("f0%d", id)
	case ProtocolSecp256k1:
		return "f1" + checksummed(a)
	case ProtocolActor:
		return "f2" + checksummed(a)
	case ProtocolBLS:
		return "f3" + checksummed(a)
	case ProtocolDelegated:
		return fmt.Sprintf("f4%d f%s", a.NS, checksummed(a))
	default:
		return "f?invalid"
	}
}

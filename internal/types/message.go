package types

import (
	"fmt"
	"math/big"

	"github.com/ipfs/go-cid"
	cbornode "github.com/ipfs/go-ipld-cbor"
)

// Message is the unsigned on-chain call: §3 "Message" of the specification.
type Message struct {
	Version  uint64
	From     Address
	To       Address
	Nonce    uint64
	Value    *big.Int
	GasLimit int64
	GasFeeCap *big.Int
	GasPremium *big.Int
	Method   uint64
	Params   []byte
}

// SignatureType distinguishes the scheme inferred from the From address.
type SignatureType byte

const (
	SigSecp256k1 SignatureType = iota
	SigBLS
)

type Signature struct {
	Type SignatureType
	Data []byte
}

type SignedMessage struct {
	Message   Message
	Signature Signature
}

// Cid returns the content-address of the canonical CBOR encoding. Every
// write into the blockstore must round-trip through this exact path so
// that the content-determinism invariant in §3 holds.
func (m *Message) Cid() (cid.Cid, error) {
	nd, err := cbornode.WrapObject(m, DefaultMultihash, -1)
	if err != nil {
		return cid.Undef, err
	}
	return nd.Cid(), nil
}

func (sm *SignedMessage) Cid() (cid.Cid, error) {
	// BLS-signed messages are deduplicated by the *unsigned* message CID:
	// the aggregate signature lives at the tipset level, so two copies of
	// the same BLS message across blocks collapse to one CID here, which
	// is exactly the "included twice, executes once" rule in §4.6.
	if sm.Signature.Type == SigBLS {
		return sm.Message.Cid()
	}
	nd, err := cbornode.WrapObject(sm, DefaultMultihash, -1)
	if err != nil {
		return cid.Undef, err
	}
	return nd.Cid(), nil
}

func (m Message) String() string {
	return fmt.Sprintf("Message{from=%s to=%s nonce=%d method=%d}", m.From, m.To, m.Nonce, m.Method)
}

// EncodeCanonical returns the exact bytes hashed into the message's CID,
// used by the mempool and gas accounting to charge a size-proportional fee.
func (m *Message) EncodeCanonical() ([]byte, error) {
	return cbornode.DumpObject(m)
}

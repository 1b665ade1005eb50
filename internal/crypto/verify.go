// Package crypto implements §4.6's cryptographic capability boundary: the
// concrete SignatureVerifier the VM runtime and syncer delegate to, kept
// separate from vm so a test can substitute an in-memory stub without
// pulling in blst or secp256k1 recovery. Grounded on the teacher's
// core/utility_functions.go opECRECOVER, which recovers a secp256k1 public
// key from a compact signature and derives an address from it — the
// recovery step here goes through decred's dcrec/secp256k1 (this repo's
// chain uses a recoverable-compact signature format rather than
// go-ethereum's RSV layout), and the derived address uses this repo's
// blake2b scheme instead of Ethereum's Keccak256 one.
package crypto

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/blake2b"

	"forest/internal/types"
)

// Verifier is the concrete vm.SignatureVerifier: Secp256k1 via ECDSA
// public-key recovery, BLS via blst pairing verification.
type Verifier struct{}

func NewVerifier() *Verifier { return &Verifier{} }

// digest is the blake2b-256 hash signed over, matching the blake2b use
// already established for address derivation in internal/types.
func digest(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}

// VerifySignature implements vm.SignatureVerifier.
func (v *Verifier) VerifySignature(sig types.Signature, from types.Address, data []byte) bool {
	switch sig.Type {
	case types.SigSecp256k1:
		return verifySecp256k1(sig.Data, from, data)
	case types.SigBLS:
		if from.Protocol() != types.ProtocolBLS {
			return false
		}
		return VerifyBLS(from.Payload(), sig.Data, digest(data))
	default:
		return false
	}
}

// VerifyAggregateBLS implements vm.SignatureVerifier.
func (v *Verifier) VerifyAggregateBLS(sigs [][]byte, pubkeys [][]byte, data [][]byte) bool {
	msgs := make([][]byte, len(data))
	for i, d := range data {
		msgs[i] = digest(d)
	}
	return verifyAggregateBLS(sigs, pubkeys, msgs)
}

// verifySecp256k1 recovers the signer's public key from a 65-byte
// recoverable-compact signature and checks it hashes to from's payload,
// mirroring the teacher's opECRECOVER recovery-then-derive shape against
// this repo's blake2b address hash instead of an Ethereum Keccak256 one.
func verifySecp256k1(sig []byte, from types.Address, data []byte) bool {
	if from.Protocol() != types.ProtocolSecp256k1 || len(sig) != 65 {
		return false
	}
	h := digest(data)
	pub, _, err := ecdsa.RecoverCompact(sig, h)
	if err != nil {
		return false
	}
	derived, err := types.NewSecp256k1Address(pub.SerializeUncompressed())
	if err != nil {
		return false
	}
	return derived == from
}

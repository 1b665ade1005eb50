package crypto

import (
	blst "github.com/supranational/blst/bindings/go"
)

// dst is the ciphersuite domain-separation tag for BLS12-381 signatures,
// the same constant drand and Filecoin both use.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// VerifyBLS checks a single BLS signature over msg against pubKey. Exported
// so internal/beacon can verify drand entries against a chain's group
// public key with the same pairing code path as message/block signatures.
//
// This repo's blst usage follows the min-pk convention (48-byte G1 public
// keys, 96-byte G2 signatures), matching blst's default published module;
// real drand networks use the opposite (min-sig) curve assignment, which
// isn't reachable from the retrieved example corpus without a separate
// build of the library. See DESIGN.md for this simplification.
func VerifyBLS(pubKey, sig, msg []byte) bool {
	var pk blst.P1Affine
	if pk.Deserialize(pubKey) == nil {
		return false
	}
	var s blst.P2Affine
	if s.Deserialize(sig) == nil {
		return false
	}
	return s.Verify(true, &pk, true, msg, dst)
}

// verifyAggregateBLS verifies one combined signature over distinct
// per-pubkey messages (Filecoin's tipset-level BLS aggregate), aggregating
// sigs first when more than one raw signature is supplied.
func verifyAggregateBLS(sigs, pubkeys [][]byte, msgs [][]byte) bool {
	if len(pubkeys) == 0 || len(pubkeys) != len(msgs) || len(sigs) == 0 {
		return false
	}

	var combined blst.P2Affine
	if len(sigs) == 1 {
		if combined.Deserialize(sigs[0]) == nil {
			return false
		}
	} else {
		var agg blst.P2Aggregate
		for _, raw := range sigs {
			var s blst.P2Affine
			if s.Deserialize(raw) == nil {
				return false
			}
			if !agg.Add(&s, true) {
				return false
			}
		}
		combined = *agg.ToAffine()
	}

	pks := make([]*blst.P1Affine, len(pubkeys))
	for i, raw := range pubkeys {
		var p blst.P1Affine
		if p.Deserialize(raw) == nil {
			return false
		}
		pks[i] = &p
	}
	return combined.AggregateVerify(true, pks, true, msgs, dst)
}

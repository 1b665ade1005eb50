package crypto

import "math/big"

// ProofVerifier is the consensus-proof capability boundary §4.6 names
// separately from signature verification: sector seal/winning-PoSt proofs
// and consensus-fault detection. Sector sealing and the storage power
// actor's real accounting are a declared non-goal (see storagePowerActor
// in internal/vm), so no implementation here runs an actual proof
// circuit — a real one would need the filecoin-proofs-ffi bindings, which
// are absent from the retrieved corpus.
type ProofVerifier interface {
	VerifyWinningPoSt(minerID uint64, proof []byte, randomness []byte) bool
	VerifyElectionProof(minerID uint64, proof []byte, randomness []byte, minerPower, totalPower *big.Int) bool
	VerifyConsensusFault(h1, h2, extra []byte) (bool, error)
}

// StubProofVerifier is the in-memory stand-in §4.6 calls out explicitly
// ("tests substitute an in-memory stub"): it accepts any non-empty proof
// rather than running real sector/PoSt verification.
type StubProofVerifier struct{}

func NewStubProofVerifier() StubProofVerifier { return StubProofVerifier{} }

func (StubProofVerifier) VerifyWinningPoSt(minerID uint64, proof, randomness []byte) bool {
	return len(proof) > 0 && len(randomness) > 0
}

func (StubProofVerifier) VerifyElectionProof(minerID uint64, proof, randomness []byte, minerPower, totalPower *big.Int) bool {
	if len(proof) == 0 || len(randomness) == 0 {
		return false
	}
	if totalPower == nil || totalPower.Sign() <= 0 {
		return false
	}
	return minerPower != nil && minerPower.Sign() > 0
}

func (StubProofVerifier) VerifyConsensusFault(h1, h2, extra []byte) (bool, error) {
	return false, nil
}

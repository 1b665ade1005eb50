package beacon

import (
	"testing"

	blst "github.com/supranational/blst/bindings/go"

	"forest/internal/types"
)

func signRound(t *testing.T, sk *blst.SecretKey, round uint64) []byte {
	t.Helper()
	sig := new(blst.P2Affine).Sign(sk, drandMessage(round), dst)
	return sig.Serialize()
}

func testChain(t *testing.T, seed byte) (ChainConfig, *blst.SecretKey) {
	t.Helper()
	ikm := make([]byte, 32)
	for i := range ikm {
		ikm[i] = byte(i) + seed
	}
	sk := blst.KeyGen(ikm)
	pk := new(blst.P1Affine).From(sk)
	return ChainConfig{GenesisTime: 1600000000, Period: 30, PublicKey: pk.Serialize()}, sk
}

func TestVerifierAcceptsValidEntry(t *testing.T) {
	cfg, sk := testChain(t, 1)
	v, err := NewVerifier(Schedule{{Height: 0, Config: cfg}}, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	entry := types.BeaconEntry{Round: 42, Signature: signRound(t, sk, 42)}
	if err := v.VerifyEntries(100, []types.BeaconEntry{entry}); err != nil {
		t.Fatalf("verify entries: %v", err)
	}
	cached, ok := v.EntryAt(42)
	if !ok || cached.Round != 42 {
		t.Fatal("expected round 42 to be cached after verification")
	}
}

func TestVerifierRejectsBadSignature(t *testing.T) {
	cfg, sk := testChain(t, 1)
	v, err := NewVerifier(Schedule{{Height: 0, Config: cfg}}, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	entry := types.BeaconEntry{Round: 7, Signature: signRound(t, sk, 8)} // signed wrong round
	if err := v.VerifyEntries(100, []types.BeaconEntry{entry}); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}
}

func TestVerifierRejectsNonMonotonicRounds(t *testing.T) {
	cfg, sk := testChain(t, 1)
	v, err := NewVerifier(Schedule{{Height: 0, Config: cfg}}, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	entries := []types.BeaconEntry{
		{Round: 10, Signature: signRound(t, sk, 10)},
		{Round: 10, Signature: signRound(t, sk, 10)},
	}
	if err := v.VerifyEntries(100, entries); err != ErrRoundNotMonotonic {
		t.Fatalf("expected ErrRoundNotMonotonic, got %v", err)
	}
}

func TestVerifierFallsBackToPreviousChain(t *testing.T) {
	oldCfg, oldSk := testChain(t, 1)
	newCfg, _ := testChain(t, 2)
	newCfg.Previous = &oldCfg

	v, err := NewVerifier(Schedule{{Height: 0, Config: newCfg}}, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	// round 3 was signed under the old chain, before the swap to newCfg.
	entry := types.BeaconEntry{Round: 3, Signature: signRound(t, oldSk, 3)}
	if err := v.VerifyEntries(100, []types.BeaconEntry{entry}); err != nil {
		t.Fatalf("expected fallback to previous chain to succeed: %v", err)
	}
}

func TestScheduleConfigAtPicksHighestHeightNotExceeding(t *testing.T) {
	a, _ := testChain(t, 1)
	b, _ := testChain(t, 2)
	s := Schedule{{Height: 0, Config: a}, {Height: 1000, Config: b}}
	cfg, ok := s.configAt(500)
	if !ok || string(cfg.PublicKey) != string(a.PublicKey) {
		t.Fatal("expected config a active at height 500")
	}
	cfg, ok = s.configAt(1500)
	if !ok || string(cfg.PublicKey) != string(b.PublicKey) {
		t.Fatal("expected config b active at height 1500")
	}
}

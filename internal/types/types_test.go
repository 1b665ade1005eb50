package types

import (
	"math/big"
	"testing"
)

func TestMessageCidDeterministic(t *testing.T) {
	from, _ := NewIDAddress(100)
	to, _ := NewIDAddress(101)
	m := Message{
		Version:    0,
		From:       from,
		To:         to,
		Nonce:      3,
		Value:      big.NewInt(1000),
		GasLimit:   1_000_000,
		GasFeeCap:  big.NewInt(100),
		GasPremium: big.NewInt(10),
		Method:     0,
		Params:     []byte("hello"),
	}

	c1, err := m.Cid()
	if err != nil {
		t.Fatalf("cid: %v", err)
	}
	c2, err := m.Cid()
	if err != nil {
		t.Fatalf("cid: %v", err)
	}
	if !c1.Equals(c2) {
		t.Fatalf("message cid is not deterministic: %s != %s", c1, c2)
	}

	b1, err := m.EncodeCanonical()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var round Message
	if err := Decode(b1, &round); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if round.Nonce != m.Nonce || round.Method != m.Method {
		t.Fatalf("round-trip mismatch: got %+v want %+v", round, m)
	}
}

func TestTipsetInvariants(t *testing.T) {
	miner1, _ := NewIDAddress(1)
	miner2, _ := NewIDAddress(2)
	h1 := &BlockHeader{Miner: miner1, Height: 10, Ticket: []byte{1}, ParentWeight: big.NewInt(5)}
	h2 := &BlockHeader{Miner: miner2, Height: 10, Ticket: []byte{2}, ParentWeight: big.NewInt(5)}

	ts, err := NewTipset([]*BlockHeader{h2, h1})
	if err != nil {
		t.Fatalf("new tipset: %v", err)
	}
	if ts.Height() != 10 {
		t.Fatalf("height=%d want 10", ts.Height())
	}
	if ts.Blocks()[0].Miner != miner1 {
		t.Fatalf("tipset not ticket-sorted: %+v", ts.Blocks())
	}

	dup := &BlockHeader{Miner: miner1, Height: 10, Ticket: []byte{3}, ParentWeight: big.NewInt(5)}
	if _, err := NewTipset([]*BlockHeader{h1, dup}); err != errDuplicateMiner {
		t.Fatalf("expected duplicate miner rejection, got %v", err)
	}

	mismatched := &BlockHeader{Miner: miner2, Height: 11, Ticket: []byte{4}, ParentWeight: big.NewInt(5)}
	if _, err := NewTipset([]*BlockHeader{h1, mismatched}); err != errMixedHeight {
		t.Fatalf("expected mixed height rejection, got %v", err)
	}
}

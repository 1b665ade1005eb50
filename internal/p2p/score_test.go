package p2p

import (
	"testing"
	"time"
)

func TestScorerPenalizeAndBanThreshold(t *testing.T) {
	s := NewScorer()
	for i := 0; i < 4; i++ {
		s.Penalize("p1", "bad data")
	}
	if s.Banned("p1") {
		t.Fatalf("peer should not be banned yet at score %v", s.Score("p1"))
	}
	s.Penalize("p1", "bad data")
	if !s.Banned("p1") {
		t.Fatalf("expected peer banned once score crosses threshold, got score %v", s.Score("p1"))
	}
}

func TestScorerExplicitBan(t *testing.T) {
	s := NewScorer()
	s.Ban("p2", time.Hour)
	if !s.Banned("p2") {
		t.Fatal("expected p2 banned")
	}
	if s.Score("p2") != 0 {
		t.Fatalf("explicit ban should not touch score, got %v", s.Score("p2"))
	}
}

func TestScorerUnknownPeerNotBanned(t *testing.T) {
	s := NewScorer()
	if s.Banned("unknown") {
		t.Fatal("unknown peer must not be reported as banned")
	}
	if s.Score("unknown") != 0 {
		t.Fatal("unknown peer must have zero score")
	}
}

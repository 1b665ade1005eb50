package p2p

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PenaltyAmount is subtracted from a peer's score on every protocol
// violation or bad-data report, per §4.3/§4.4.
const PenaltyAmount = 10.0

// BanThreshold bans a peer once its score drops to or below this value.
const BanThreshold = -50.0

// DefaultBanDuration matches §4.4's "temporarily banned (default 1 h)".
const DefaultBanDuration = time.Hour

type peerRecord struct {
	score      float64
	bannedTill time.Time
}

// Scorer is an in-memory peer scoring/banning table guarded by a single
// mutex, matching SPEC_FULL.md §4.3's concrete mechanism. It satisfies both
// internal/sync.PeerScorer (Penalize/Ban) and internal/exchange.Scorer
// (Penalize) without an explicit interface assertion, since both packages
// intentionally depend only on the method shapes they need — the teacher's
// wire-up-interfaces convention applied to this adapter too.
type Scorer struct {
	mu      sync.Mutex
	records map[string]*peerRecord
	log     *logrus.Entry
}

func NewScorer() *Scorer {
	return &Scorer{records: make(map[string]*peerRecord), log: logrus.StandardLogger().WithField("component", "p2p.score")}
}

func (s *Scorer) record(id string) *peerRecord {
	r, ok := s.records[id]
	if !ok {
		r = &peerRecord{}
		s.records[id] = r
	}
	return r
}

// Penalize decrements peer's score by PenaltyAmount and bans it for
// DefaultBanDuration once the score crosses BanThreshold.
func (s *Scorer) Penalize(peer string, reason string) {
	s.mu.Lock()
	r := s.record(peer)
	r.score -= PenaltyAmount
	banNow := r.score <= BanThreshold && time.Now().After(r.bannedTill)
	if banNow {
		r.bannedTill = time.Now().Add(DefaultBanDuration)
	}
	s.mu.Unlock()

	s.log.WithField("peer", peer).WithField("reason", reason).WithField("banned", banNow).Warn("peer penalized")
}

// Ban bans peer for d regardless of its current score, for protocol
// violations severe enough to skip the decrement-then-threshold path (e.g.
// an untrusted peer advertising a chain far beyond the configured length
// limit, per §4.4).
func (s *Scorer) Ban(peer string, d time.Duration) {
	s.mu.Lock()
	r := s.record(peer)
	r.bannedTill = time.Now().Add(d)
	s.mu.Unlock()
	s.log.WithField("peer", peer).WithField("duration", d).Warn("peer banned")
}

// Banned reports whether peer is currently serving a ban.
func (s *Scorer) Banned(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[peer]
	if !ok {
		return false
	}
	return time.Now().Before(r.bannedTill)
}

// Score returns peer's current trust score (0 for unknown peers).
func (s *Scorer) Score(peer string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[peer]
	if !ok {
		return 0
	}
	return r.score
}

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"forest/internal/chainstore"
	"forest/internal/types"
)

// ErrBridgeTooLong is returned when a candidate's ancestry does not join the
// local store within MaxBridgeLength tipsets.
var ErrBridgeTooLong = errors.New("sync: bridge exceeds max length without joining local store")

// ErrSuperseded names the case where a heavier candidate preempted the
// in-flight sync of an older one. Nothing in this package returns it: a
// superseded run sees its generation is stale and stops without an error.
var ErrSuperseded = errors.New("sync: superseded by a heavier target")

// MaxBridgeLength bounds how far back toward genesis the bridge phase walks
// before giving up, per §4.4 point 2.
const MaxBridgeLength = 2880 // ~1 day at 30s epochs, matching the teacher's day-scale constants

// MaxClockDrift bounds how far into the future a block's timestamp may sit
// relative to wall clock before being rejected in Validating.
const MaxClockDrift = 30 * time.Second

// BanDuration is the default temporary ban applied to a byzantine or
// equivocating peer, per §4.4's failure model.
const BanDuration = time.Hour

// Fetcher is the network-facing capability the syncer needs: resolving a
// tipset key to its headers, and ensuring a tipset's message bodies are
// locally available. Concrete implementations live in internal/exchange;
// this package only depends on the interface, matching the teacher's
// wire-up-interfaces-to-keep-core-independent convention (core/consensus.go).
type Fetcher interface {
	GetTipset(ctx context.Context, key types.TipsetKey) (*types.Tipset, error)
	FetchMessages(ctx context.Context, ts *types.Tipset) error
}

// Executor runs the VM state transition for a tipset against its parent
// state root, returning the resulting state and receipts roots.
type Executor interface {
	ApplyTipset(ctx context.Context, ts *types.Tipset, parentStateRoot cid.Cid, ancestors []*types.Tipset) (stateRoot, receiptsRoot cid.Cid, err error)
}

// PeerScorer records per-peer trust adjustments driven by sync outcomes.
type PeerScorer interface {
	Penalize(peer string, reason string)
	Ban(peer string, d time.Duration)
}

// BeaconVerifier checks a block's beacon entries against the public key of
// whichever drand chain its height maps to in the beacon schedule. A nil
// BeaconVerifier skips this check, which callers should only do in tests.
type BeaconVerifier interface {
	VerifyEntries(height int64, entries []types.BeaconEntry) error
}

// MessageVerifier checks a block's per-message and aggregate-BLS
// signatures, per §4.4.4a. A nil MessageVerifier skips this check, which
// callers should only do in tests.
type MessageVerifier interface {
	VerifyBlockMessages(ctx context.Context, b *types.BlockHeader) error
}

// Candidate is a scored, sourced sync target from gossip or a peer hello.
type Candidate struct {
	Tipset    *types.Tipset
	Peer      string
	PeerTrust float64
	Trusted   bool
}

// Syncer drives the §4.4 state machine. At most one sync runs at a time;
// SetTarget either starts a sync or, if the new candidate is heavier,
// cancels the in-flight one cooperatively and starts over — mirroring the
// "a new, strictly heavier target supersedes any in-flight validation of a
// lighter one" rule.
type Syncer struct {
	mu      sync.Mutex
	state   State
	cs      *chainstore.Store
	fetcher Fetcher
	exec    Executor
	beacon  BeaconVerifier
	msgVer  MessageVerifier
	scorer  PeerScorer
	log     *logrus.Entry

	generation int64
	cancel     context.CancelFunc
	current    *Candidate
}

func NewSyncer(cs *chainstore.Store, fetcher Fetcher, exec Executor, beacon BeaconVerifier, scorer PeerScorer, log *logrus.Logger) *Syncer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Syncer{
		state:   Stalled,
		cs:      cs,
		fetcher: fetcher,
		exec:    exec,
		beacon:  beacon,
		scorer:  scorer,
		log:     log.WithField("component", "sync"),
	}
}

// SetMessageVerifier installs the message-signature checker used by
// checkHeaderShape. Optional: a nil verifier (the default) skips the
// check, matching BeaconVerifier's test-only escape hatch.
func (s *Syncer) SetMessageVerifier(mv MessageVerifier) {
	s.mu.Lock()
	s.msgVer = mv
	s.mu.Unlock()
}

func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SetTarget scores c against any in-flight sync and, if heavier, supersedes
// it and launches a new sync in the background. It is a no-op if c is not
// heavier than the tipset currently being synced (or already the head).
func (s *Syncer) SetTarget(ctx context.Context, c Candidate) {
	if !s.admissible(c) {
		return
	}
	s.mu.Lock()
	if s.current != nil && !isHeavierCandidate(c, *s.current) {
		s.mu.Unlock()
		return
	}
	if head := s.cs.Heaviest(); head != nil && !isHeavier(c.Tipset, head) && head.Key().Equals(c.Tipset.Key()) {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.current = &c
	s.mu.Unlock()

	go s.run(runCtx, gen, c)
}

func (s *Syncer) stale(gen int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.generation
}

func (s *Syncer) run(ctx context.Context, gen int64, c Candidate) {
	s.setState(Connecting)
	if s.stale(gen) {
		return
	}

	if !c.Trusted {
		if head := s.cs.Heaviest(); head != nil && exceedsUntrustedLength(head.Height(), c.Tipset.Height()) {
			err := errors.New("sync: untrusted candidate exceeds max chain length ahead of current head")
			s.log.WithField("peer", c.Peer).Warn(err.Error())
			if s.scorer != nil {
				s.scorer.Ban(c.Peer, BanDuration)
			}
			s.fail(c, err)
			return
		}
	}

	s.setState(BridgingAncestors)
	chain, err := s.bridge(ctx, c.Tipset)
	if err != nil {
		s.log.WithError(err).Warn("bridge failed")
		s.fail(c, err)
		return
	}
	if s.stale(gen) {
		return
	}

	s.setState(FetchingMessages)
	for _, ts := range chain {
		if err := s.fetcher.FetchMessages(ctx, ts); err != nil {
			s.log.WithError(err).WithField("tipset", ts.Key().String()).Warn("fetch messages failed")
			s.fail(c, err)
			return
		}
	}
	if s.stale(gen) {
		return
	}

	s.setState(Validating)
	if err := s.validateChain(ctx, chain, c.Peer); err != nil {
		s.fail(c, err)
		return
	}
	if s.stale(gen) {
		return
	}

	s.setState(Applying)
	if len(chain) > 0 {
		if _, err := s.cs.SetHeaviest(ctx, chain[len(chain)-1]); err != nil {
			s.log.WithError(err).Error("set heaviest failed")
			s.fail(c, err)
			return
		}
	}

	s.setState(Follow)
	s.mu.Lock()
	if s.current != nil && s.current.Tipset.Key().Equals(c.Tipset.Key()) {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Syncer) fail(c Candidate, err error) {
	s.setState(Stalled)
	s.mu.Lock()
	if s.current != nil && s.current.Tipset.Key().Equals(c.Tipset.Key()) {
		s.current = nil
	}
	s.mu.Unlock()
}

// isHeavier reports whether a is heavier than b per §4.4 point 1: higher
// parent_weight wins; ties broken by the smaller ticket digest of the
// tipset's lead (first, ticket-sorted) block.
func isHeavier(a, b *types.Tipset) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	cmp := a.ParentWeight().Cmp(b.ParentWeight())
	if cmp != 0 {
		return cmp > 0
	}
	at, bt := a.Blocks()[0].Ticket, b.Blocks()[0].Ticket
	return string(at) < string(bt)
}

func isHeavierCandidate(a, b Candidate) bool {
	return isHeavier(a.Tipset, b.Tipset)
}

// exceedsUntrustedLength reports whether a candidate height this far ahead
// of the local head should be treated with suspicion when its source peer
// is untrusted, per §4.4's failure model (mirrors the retrieved
// ExceedsUntrustedChainLength convention).
func exceedsUntrustedLength(curHeight, newHeight int64) bool {
	return newHeight > curHeight+MaxBridgeLength
}

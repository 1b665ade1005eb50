// Package mempool implements §4.5: the admission-controlled set of
// pending signed messages with per-sender nonce ordering. Grounded on the
// teacher's core/txpool_*.go (TxPool's mutex-guarded lookup map/queue,
// ReadOnlyState/GasCalculator wire-up-interfaces style), generalized from
// a single global lock to a sharded per-sender lock so one sender's
// selection/admission traffic never blocks another's, per SPEC_FULL.md
// §4.5's "sharded map guarded by per-sender sync.Mutex."
package mempool

import (
	"context"
	"math/big"
	"sync"

	"github.com/ipfs/go-cid"

	"forest/internal/types"
)

// DefaultMaxPendingPerSender is §4.5's "aggregate constraints (max
// pending per sender, default 1000)."
const DefaultMaxPendingPerSender = 1000

// DefaultMinReplaceFactor is the minimum premium increase a duplicate
// (from, nonce) message must offer over the one it replaces, per §4.5's
// "configured minimum factor" and the replace-by-fee example in §8 (1.25).
const DefaultMinReplaceFactor = 1.25

// StateView is the read-only chain-state capability the pool needs at the
// current head, mirroring the teacher's ReadOnlyState interface
// (core/common_structs.go) generalized from its Hash/Address pair to this
// repo's types.Address.
type StateView interface {
	BalanceOf(addr types.Address) (*big.Int, error)
	NonceOf(addr types.Address) (uint64, error)
}

// SignatureVerifier is the subset of vm.SignatureVerifier admission needs;
// kept as a local, structurally-compatible interface so this package
// never imports internal/vm (wire-up-interfaces, matching core/consensus.go's
// convention as internal/sync already does for Executor/BeaconVerifier).
type SignatureVerifier interface {
	VerifySignature(sig types.Signature, from types.Address, data []byte) bool
}

// MessageLoader resolves a tipset's BLS/Secp messages from the blockstore,
// structurally compatible with internal/vm.MessageLoader and
// internal/exchange.MessageProvider so OnHeadChange can resolve the
// messages a reverted/applied tipset actually carried without this
// package importing internal/vm.
type MessageLoader interface {
	LoadTipsetMessages(ctx context.Context, ts *types.Tipset) (bls, secp []*types.SignedMessage, err error)
}

// senderQueue holds one sender's pending messages, keyed by nonce, guarded
// by its own lock so concurrent admission/selection across senders never
// contends on a single pool-wide mutex.
type senderQueue struct {
	mu      sync.Mutex
	pending map[uint64]*types.SignedMessage
}

func newSenderQueue() *senderQueue {
	return &senderQueue{pending: make(map[uint64]*types.SignedMessage)}
}

// Pool is §4.5's message pool.
type Pool struct {
	mu      sync.RWMutex // guards the senders map itself, not each entry
	senders map[types.Address]*senderQueue

	badMsgs map[string]struct{}
	badMu   sync.Mutex

	state    StateView
	verifier SignatureVerifier
	messages MessageLoader
	baseFee  *big.Int

	maxPendingPerSender int
	minReplaceFactor    float64
}

func NewPool(state StateView, verifier SignatureVerifier) *Pool {
	return &Pool{
		senders:             make(map[types.Address]*senderQueue),
		badMsgs:             make(map[string]struct{}),
		state:               state,
		verifier:            verifier,
		baseFee:             big.NewInt(0),
		maxPendingPerSender: DefaultMaxPendingPerSender,
		minReplaceFactor:    DefaultMinReplaceFactor,
	}
}

// SetBaseFee installs the current head's base fee, used by OnHeadChange's
// eviction pass; Add does not consult it.
func (p *Pool) SetBaseFee(fee *big.Int) {
	p.mu.Lock()
	p.baseFee = fee
	p.mu.Unlock()
}

// SetMessageLoader installs the blockstore-backed message resolver
// OnHeadChange needs to find out which messages a reverted or applied
// tipset actually carried. Mirrors internal/sync.Syncer's
// SetMessageVerifier setter: the pool is constructible (and testable)
// without one, but OnHeadChange's revert-reinsertion and applied-tipset
// drop are no-ops until it is installed.
func (p *Pool) SetMessageLoader(ml MessageLoader) {
	p.mu.Lock()
	p.messages = ml
	p.mu.Unlock()
}

func (p *Pool) queueFor(from types.Address) *senderQueue {
	p.mu.RLock()
	q, ok := p.senders[from]
	p.mu.RUnlock()
	if ok {
		return q
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.senders[from]; ok {
		return q
	}
	q = newSenderQueue()
	p.senders[from] = q
	return q
}

func (p *Pool) markBad(c cid.Cid) {
	p.badMu.Lock()
	p.badMsgs[c.String()] = struct{}{}
	p.badMu.Unlock()
}

func (p *Pool) isBad(c cid.Cid) bool {
	p.badMu.Lock()
	_, ok := p.badMsgs[c.String()]
	p.badMu.Unlock()
	return ok
}

// Pending returns a snapshot of every message currently queued for sender,
// ordered by nonce ascending.
func (p *Pool) Pending(sender types.Address) []*types.SignedMessage {
	q := p.queueFor(sender)
	q.mu.Lock()
	defer q.mu.Unlock()
	return sortedByNonce(q.pending)
}

func sortedByNonce(pending map[uint64]*types.SignedMessage) []*types.SignedMessage {
	out := make([]*types.SignedMessage, 0, len(pending))
	for _, sm := range pending {
		out = append(out, sm)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Message.Nonce < out[j-1].Message.Nonce; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

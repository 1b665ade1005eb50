package mempool

import (
	"context"
	"math/big"

	"github.com/pkg/errors"

	"forest/internal/types"
)

// Admission errors are typed and returned synchronously to the submitter,
// per §8's "not logged as errors" — callers translate these directly into
// an RPC response rather than wrapping them in a generic failure.
var (
	ErrBadSignature     = errors.New("mempool: invalid signature")
	ErrNonceLow         = errors.New("mempool: nonce below on-chain nonce")
	ErrInsufficientFunds = errors.New("mempool: insufficient balance for gas_fee_cap*gas_limit+value")
	ErrFeeCapBelowBase  = errors.New("mempool: gas_fee_cap below gas_premium or below zero")
	ErrBadGasLimit      = errors.New("mempool: gas_limit outside protocol bounds")
	ErrNegativeValue    = errors.New("mempool: negative value")
	ErrSenderQueueFull  = errors.New("mempool: sender pending queue full")
	ErrDuplicate        = errors.New("mempool: duplicate (from, nonce) without sufficient premium increase")
	ErrBadMessage       = errors.New("mempool: message CID is in the bad-message cache")
)

// MinGasLimit and MaxGasLimit bound a single message's declared gas_limit;
// MaxBlockGas bounds what Select will pack into one block. These are this
// repo's own protocol-bound choices (the spec names "protocol bounds"
// without fixing values), chosen to leave room for a few thousand
// messages per block at typical gas costs.
const (
	MinGasLimit = 1_000
	MaxGasLimit = 10_000_000_000
	MaxBlockGas = 10_000_000_000
)

// Add runs §4.5's admission rules against sm and, if accepted, inserts it
// into its sender's queue (replacing an existing (from, nonce) entry when
// the new message's premium clears minReplaceFactor).
func (p *Pool) Add(ctx context.Context, sm *types.SignedMessage) error {
	msg := sm.Message

	c, err := sm.Cid()
	if err != nil {
		return errors.Wrap(ErrBadMessage, err.Error())
	}
	if p.isBad(c) {
		return ErrBadMessage
	}

	if msg.Value == nil || msg.Value.Sign() < 0 {
		return ErrNegativeValue
	}
	if msg.GasPremium == nil || msg.GasPremium.Sign() < 0 || msg.GasFeeCap == nil || msg.GasFeeCap.Cmp(msg.GasPremium) < 0 {
		return ErrFeeCapBelowBase
	}
	if msg.GasLimit < MinGasLimit || msg.GasLimit > MaxGasLimit {
		return ErrBadGasLimit
	}

	encoded, err := msg.EncodeCanonical()
	if err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}
	if p.verifier != nil && !p.verifier.VerifySignature(sm.Signature, msg.From, encoded) {
		return ErrBadSignature
	}

	onChainNonce, err := p.state.NonceOf(msg.From)
	if err != nil {
		return err
	}
	if msg.Nonce < onChainNonce {
		return ErrNonceLow
	}

	balance, err := p.state.BalanceOf(msg.From)
	if err != nil {
		return err
	}
	required := new(big.Int).Add(new(big.Int).Mul(msg.GasFeeCap, big.NewInt(msg.GasLimit)), msg.Value)
	if balance.Cmp(required) < 0 {
		return ErrInsufficientFunds
	}

	q := p.queueFor(msg.From)
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.pending[msg.Nonce]; ok {
		threshold := new(big.Float).Mul(new(big.Float).SetInt(existing.Message.GasPremium), big.NewFloat(p.minReplaceFactor))
		if new(big.Float).SetInt(msg.GasPremium).Cmp(threshold) <= 0 {
			return ErrDuplicate
		}
	} else if len(q.pending) >= p.maxPendingPerSender {
		return ErrSenderQueueFull
	}

	q.pending[msg.Nonce] = sm
	return nil
}

// Remove drops sender's message at nonce, e.g. once it is included in a
// validated tipset and the mempool's ownership of it ends (§3's "the
// mempool owns pending messages until they are included in a validated
// tipset, at which point ownership is dropped").
func (p *Pool) Remove(sender types.Address, nonce uint64) {
	q := p.queueFor(sender)
	q.mu.Lock()
	delete(q.pending, nonce)
	q.mu.Unlock()
}

// OnHeadChange implements §4.5's head-change handling: messages from
// reverted tipsets are re-admitted if still valid at the new head;
// messages from applied tipsets are dropped; every remaining message is
// re-checked for affordability at the new base fee, evicting what no
// longer clears it.
func (p *Pool) OnHeadChange(ctx context.Context, reverted, applied []*types.Tipset, newBaseFee *big.Int) {
	p.SetBaseFee(newBaseFee)

	for _, ts := range applied {
		msgs, err := p.tipsetMessages(ctx, ts)
		if err != nil {
			continue
		}
		for _, sm := range msgs {
			p.Remove(sm.Message.From, sm.Message.Nonce)
		}
	}
	for _, ts := range reverted {
		msgs, err := p.tipsetMessages(ctx, ts)
		if err != nil {
			continue
		}
		for _, sm := range msgs {
			_ = p.Add(ctx, sm) // re-admission re-validates against the new head; failure just drops it
		}
	}

	p.evictUnaffordable()
}

// evictUnaffordable drops every pending message whose gas_fee_cap no
// longer covers the pool's current base fee.
func (p *Pool) evictUnaffordable() {
	p.mu.RLock()
	queues := make([]*senderQueue, 0, len(p.senders))
	for _, q := range p.senders {
		queues = append(queues, q)
	}
	baseFee := p.baseFee
	p.mu.RUnlock()

	for _, q := range queues {
		q.mu.Lock()
		for nonce, sm := range q.pending {
			if sm.Message.GasFeeCap.Cmp(baseFee) < 0 {
				delete(q.pending, nonce)
			}
		}
		q.mu.Unlock()
	}
}

// tipsetMessages collects every message a tipset's blocks carry, without
// the dedup/interleave rules apply.go's canonicalExecutionOrder applies —
// OnHeadChange only needs the set of (from, nonce) pairs involved, not a
// canonical execution order. Returns (nil, nil) when no loader has been
// installed via SetMessageLoader, which leaves OnHeadChange's revert and
// applied loops as no-ops rather than panicking on a nil pointer.
func (p *Pool) tipsetMessages(ctx context.Context, ts *types.Tipset) ([]*types.SignedMessage, error) {
	p.mu.RLock()
	ml := p.messages
	p.mu.RUnlock()
	if ml == nil {
		return nil, nil
	}

	bls, secp, err := ml.LoadTipsetMessages(ctx, ts)
	if err != nil {
		return nil, err
	}
	return append(bls, secp...), nil
}

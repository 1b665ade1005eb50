package mempool

import (
	"sort"

	"forest/internal/types"
)

// Select implements §4.5's profit-maximizing packing: among all senders'
// pending messages with nonce continuity from the on-chain nonce, take as
// many of the highest-gas_premium messages as fit under gasLimit, breaking
// ties on (from, nonce) by CID so the choice is deterministic across nodes
// building the same block.
func (p *Pool) Select(gasLimit int64) []*types.SignedMessage {
	if gasLimit <= 0 {
		gasLimit = MaxBlockGas
	}

	p.mu.RLock()
	queues := make([]*senderQueue, 0, len(p.senders))
	for _, q := range p.senders {
		queues = append(queues, q)
	}
	p.mu.RUnlock()

	// Each sender's chain is a nonce-continuous run starting at the
	// on-chain nonce; packing proceeds sender-chain by sender-chain (never
	// splitting a chain out of order) so nonce continuity always holds in
	// the result, ordered by each chain's lead message's premium.
	var chains [][]*types.SignedMessage
	for _, q := range queues {
		q.mu.Lock()
		sorted := sortedByNonce(q.pending)
		q.mu.Unlock()

		if len(sorted) == 0 {
			continue
		}
		onChainNonce, err := p.state.NonceOf(sorted[0].Message.From)
		if err != nil {
			continue
		}
		var chain []*types.SignedMessage
		next := onChainNonce
		for _, sm := range sorted {
			if sm.Message.Nonce != next {
				break // nonce gap: this sender's chain stops here
			}
			chain = append(chain, sm)
			next++
		}
		if len(chain) > 0 {
			chains = append(chains, chain)
		}
	}

	sort.SliceStable(chains, func(i, j int) bool {
		a, b := chains[i][0], chains[j][0]
		cmp := a.Message.GasPremium.Cmp(b.Message.GasPremium)
		if cmp != 0 {
			return cmp > 0 // higher premium lead message first
		}
		ca, errA := a.Cid()
		cb, errB := b.Cid()
		if errA != nil || errB != nil {
			return false
		}
		return ca.String() < cb.String()
	})

	var selected []*types.SignedMessage
	var used int64
	for _, chain := range chains {
		for _, sm := range chain {
			if used+sm.Message.GasLimit > gasLimit {
				break // this sender's remaining, higher-nonce messages can't precede a gap
			}
			selected = append(selected, sm)
			used += sm.Message.GasLimit
		}
	}

	return selected
}

package vm

import (
	"context"
	"math/big"

	"forest/internal/blockstore"
	"forest/internal/types"
)

// ChainStateView exposes a loaded StateTree's balances/nonces by address,
// implementing mempool.StateView without the mempool package needing to
// import internal/vm (wire-up-interfaces, matching the sync/crypto/beacon
// convention already used throughout this repo). Address resolution
// reuses the same ID-address-decode-or-init-table-scan path ResolveID
// uses on a live Runtime, done directly against tree/bs since mempool
// admission has no actor-call context to build a Runtime from.
type ChainStateView struct {
	bs   blockstore.Store
	tree *StateTree
}

// NewChainStateView wraps an already-loaded state tree for read-only
// balance/nonce lookups.
func NewChainStateView(bs blockstore.Store, tree *StateTree) *ChainStateView {
	return &ChainStateView{bs: bs, tree: tree}
}

// BalanceOf implements mempool.StateView.
func (v *ChainStateView) BalanceOf(addr types.Address) (*big.Int, error) {
	rec, ok := v.recordFor(addr)
	if !ok {
		return big.NewInt(0), nil
	}
	return rec.Balance, nil
}

// NonceOf implements mempool.StateView.
func (v *ChainStateView) NonceOf(addr types.Address) (uint64, error) {
	rec, ok := v.recordFor(addr)
	if !ok {
		return 0, nil
	}
	return rec.Nonce, nil
}

func (v *ChainStateView) recordFor(addr types.Address) (*types.ActorRecord, bool) {
	id, ok := v.resolveAddressID(addr)
	if !ok {
		return nil, false
	}
	return v.tree.Get(id)
}

// resolveAddressID resolves addr against tree/bs directly: ID-protocol
// addresses decode without any lookup, everything else is matched against
// the init actor's address table (the same table resolveInitAddress reads
// through a Runtime's gas-metered GetState).
func (v *ChainStateView) resolveAddressID(addr types.Address) (uint64, bool) {
	if addr.Protocol() == types.ProtocolID {
		return idFromAddress(addr)
	}
	rec, ok := v.tree.Get(InitActorID)
	if !ok || !rec.StateCid.Defined() {
		return 0, false
	}
	data, err := v.bs.Get(context.Background(), rec.StateCid)
	if err != nil {
		return 0, false
	}
	var st initState
	if err := types.Decode(data, &st); err != nil {
		return 0, false
	}
	key := addr.String()
	for _, e := range st.Entries {
		if e.Key == key {
			return e.ID, true
		}
	}
	return 0, false
}

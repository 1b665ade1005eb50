package types

import (
	"math/big"

	"github.com/ipfs/go-cid"
)

// ActorRecord is the §3 value type stored at each key of the state-tree
// HAMT. CodeCid selects the versioned behaviour (internal/vm's dispatch
// table); StateCid roots the actor's own private state.
type ActorRecord struct {
	CodeCid          cid.Cid
	StateCid         cid.Cid
	Nonce            uint64
	Balance          *big.Int
	DelegatedAddress *Address
}

func (a *ActorRecord) Cid() (cid.Cid, error) { return cidOf(a) }

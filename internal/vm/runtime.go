// Package vm implements §4.6: the deterministic state-transition runtime.
// It is grounded on the teacher's core/virtual_machine.go three-tier VM
// (SuperLightVM/LightVM/HeavyVM sharing a GasMeter and a Receipt/Log
// result shape) generalized from a single bytecode interpreter executing
// arbitrary opcodes to a closed table of named built-in actors dispatching
// on (code CID, method number).
package vm

import (
	"context"
	"math/big"

	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"

	"forest/internal/blockstore"
	"forest/internal/types"
)

// ErrActorNotFound is returned when a message or Send targets an ID with no
// actor record, or whose code CID isn't in the dispatch table.
var ErrActorNotFound = errors.New("vm: actor not found")

// ErrInsufficientFunds mirrors §4.6 step 2b.
var ErrInsufficientFunds = errors.New("vm: insufficient funds")

// MaxCallDepth bounds recursive Sends, per §4.6's "call-depth is bounded."
const MaxCallDepth = 256

// MethodSend is the universal "transfer value only" pseudo-method number,
// matching Filecoin's own convention (method 0 never dispatches to actor
// code).
const MethodSend uint64 = 0

// SignatureVerifier is the cryptographic capability boundary §4.6 calls
// out explicitly ("delegated to a ProofVerifier capability; tests
// substitute an in-memory stub"), generalized here to cover every crypto
// operation the runtime exposes to actors.
type SignatureVerifier interface {
	VerifySignature(sig types.Signature, from types.Address, data []byte) bool
	VerifyAggregateBLS(sigs [][]byte, pubkeys [][]byte, data [][]byte) bool
}

// Runtime is the per-message execution context: a gas-metered view over a
// StateTree and blockstore, matching §4.6/§5's "transactional view...
// reads through a cached overlay, writes staged until the outer message
// returns successfully" requirement realized via StateTree snapshot/restore
// around every recursive Send.
type Runtime struct {
	ctx      context.Context
	bs       blockstore.Store
	tree     *StateTree
	table    ActorTable
	gas      *GasMeter
	verifier SignatureVerifier

	epoch   int64
	baseFee *big.Int

	callerID uint64
	depth    int
}

// Gas exposes the runtime's gas meter to actor code.
func (rt *Runtime) Gas() *GasMeter { return rt.gas }

// Epoch returns the tipset height being executed.
func (rt *Runtime) Epoch() int64 { return rt.epoch }

// Caller returns the calling actor's ID.
func (rt *Runtime) Caller() uint64 { return rt.callerID }

// Verifier exposes the cryptographic capability boundary to actor code.
func (rt *Runtime) Verifier() SignatureVerifier { return rt.verifier }

// GetState loads the calling actor's private state blob through the
// gas-metered blockstore view.
func (rt *Runtime) GetState(head cid.Cid, out interface{}) error {
	if err := rt.gas.Consume(OpIPLDGet, 1); err != nil {
		return err
	}
	if !head.Defined() {
		return nil
	}
	data, err := rt.bs.Get(rt.ctx, head)
	if err != nil {
		return err
	}
	return types.Decode(data, out)
}

// PutState persists a new private-state blob and returns its CID, charging
// the IPLD-put price, per §4.6's per-write metering rule.
func (rt *Runtime) PutState(obj interface{}) (cid.Cid, error) {
	if err := rt.gas.Consume(OpIPLDPut, 1); err != nil {
		return cid.Undef, err
	}
	data, err := types.Encode(obj)
	if err != nil {
		return cid.Undef, err
	}
	c, err := wrapNode(data)
	if err != nil {
		return cid.Undef, err
	}
	if err := rt.bs.Put(rt.ctx, c, data); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// ResolveID resolves a non-ID address to its actor ID via the init actor's
// address table, per §4.6 step 2b. ID-protocol addresses decode directly.
func (rt *Runtime) ResolveID(addr types.Address) (uint64, bool) {
	if addr.Protocol() == types.ProtocolID {
		return idFromAddress(addr)
	}
	return resolveInitAddress(rt, addr)
}

// Record returns the actor record for id.
func (rt *Runtime) Record(id uint64) (*types.ActorRecord, bool) {
	return rt.tree.Get(id)
}

// Send invokes the actor at id with method/params, transferring value first
// (failing atomically if the caller lacks funds), and rolls the state tree
// back to its pre-call snapshot if the callee returns an error — §4.6's
// "a failed internal send rolls back its sub-state without affecting the
// caller's state."
func (rt *Runtime) Send(callerID, id uint64, method uint64, params []byte, value *big.Int) ([]byte, types.ExitCode, error) {
	if rt.depth >= MaxCallDepth {
		return nil, types.ExitErrForbidden, errors.New("vm: max call depth exceeded")
	}
	if err := rt.gas.Consume(OpSend, 1); err != nil {
		return nil, types.ExitSysOutOfGas, err
	}

	snapshot := rt.tree.Snapshot()

	if value != nil && value.Sign() > 0 {
		if callerID == RewardActorID {
			// The reward actor mints value rather than transferring an
			// existing balance, matching real Filecoin's reward actor
			// acting as the network's block-reward minting source — it
			// is never pre-funded, so a balance check here would make
			// every payout fail.
			to, ok := rt.tree.Get(id)
			if !ok {
				rt.tree.Restore(snapshot)
				return nil, types.ExitErrNotFound, ErrActorNotFound
			}
			newTo := *to
			newTo.Balance = new(big.Int).Add(to.Balance, value)
			rt.tree.Set(id, &newTo)
		} else {
			from, ok := rt.tree.Get(callerID)
			if !ok || from.Balance.Cmp(value) < 0 {
				rt.tree.Restore(snapshot)
				return nil, types.ExitSysInsufficientFunds, ErrInsufficientFunds
			}
			to, ok := rt.tree.Get(id)
			if !ok {
				rt.tree.Restore(snapshot)
				return nil, types.ExitErrNotFound, ErrActorNotFound
			}
			newFrom := *from
			newFrom.Balance = new(big.Int).Sub(from.Balance, value)
			newTo := *to
			newTo.Balance = new(big.Int).Add(to.Balance, value)
			rt.tree.Set(callerID, &newFrom)
			rt.tree.Set(id, &newTo)
		}
	}

	if method == MethodSend {
		// Method 0 is the universal "just transfer value" pseudo-method,
		// matching Filecoin's own convention: no actor code runs.
		return nil, types.ExitOk, nil
	}

	rec, ok := rt.tree.Get(id)
	if !ok {
		rt.tree.Restore(snapshot)
		return nil, types.ExitErrNotFound, ErrActorNotFound
	}
	code, ok := rt.table[rec.CodeCid]
	if !ok {
		rt.tree.Restore(snapshot)
		return nil, types.ExitErrNotFound, ErrActorNotFound
	}

	child := &Runtime{ctx: rt.ctx, bs: rt.bs, tree: rt.tree, table: rt.table, gas: rt.gas, verifier: rt.verifier, epoch: rt.epoch, baseFee: rt.baseFee, callerID: id, depth: rt.depth + 1}
	ret, err := code(child, method, params)
	if err != nil {
		rt.tree.Restore(snapshot)
		if errors.Is(err, ErrOutOfGas) {
			return nil, types.ExitSysOutOfGas, err
		}
		return nil, types.ExitErrIllegalArgument, err
	}
	return ret, types.ExitOk, nil
}

func idFromAddress(addr types.Address) (uint64, bool) {
	payload := addr.Payload()
	if len(payload) == 0 {
		return 0, false
	}
	id, n := uvarint(payload)
	if n <= 0 {
		return 0, false
	}
	return id, true
}

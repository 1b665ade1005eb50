package vm

import (
	"math/big"
	"sort"

	cbornode "github.com/ipfs/go-ipld-cbor"
	"github.com/pkg/errors"

	"forest/internal/types"
)

// initAddrEntry maps one non-ID address string to the actor ID init
// assigned it, per §4.6's "resolve from to its ID address."
type initAddrEntry struct {
	Key string
	ID  uint64
}

// initState is the init actor's private state: the address resolution
// table and the next free actor ID.
type initState struct {
	Entries []initAddrEntry
	NextID  uint64
}

func init() {
	cbornode.RegisterCborType(initAddrEntry{})
	cbornode.RegisterCborType(initState{})
}

// Init actor methods.
const (
	MethodInitExec uint64 = 2
)

// initActor resolves addresses to IDs and creates new non-singleton
// actors, mirroring Filecoin's init actor without the full class registry:
// only the built-in account actor can be created on demand here.
func initActor(rt *Runtime, method uint64, params []byte) ([]byte, error) {
	switch method {
	case MethodInitExec:
		addr, err := types.AddressFromBytes(params)
		if err != nil {
			return nil, errors.Wrap(err, "decode exec params")
		}
		id, err := createAccount(rt, addr)
		if err != nil {
			return nil, err
		}
		out, err := types.Encode(id)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, errors.Errorf("init actor: unknown method %d", method)
	}
}

func loadInitState(rt *Runtime) (*types.ActorRecord, initState, error) {
	rec, ok := rt.Record(InitActorID)
	if !ok {
		return nil, initState{}, ErrActorNotFound
	}
	var st initState
	if err := rt.GetState(rec.StateCid, &st); err != nil {
		return nil, initState{}, err
	}
	if st.NextID == 0 {
		st.NextID = 100
	}
	return rec, st, nil
}

// resolveInitAddress looks addr up in the init actor's table.
func resolveInitAddress(rt *Runtime, addr types.Address) (uint64, bool) {
	_, st, err := loadInitState(rt)
	if err != nil {
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

// createAccount assigns addr a fresh actor ID and installs an account
// actor record for it, per §4.6's implicit account-creation path for a
// message whose recipient has no actor yet.
func createAccount(rt *Runtime, addr types.Address) (uint64, error) {
	if id, ok := resolveInitAddress(rt, addr); ok {
		return id, nil
	}
	rec, st, err := loadInitState(rt)
	if err != nil {
		return 0, err
	}
	id := st.NextID
	st.NextID++
	st.Entries = append(st.Entries, initAddrEntry{Key: addr.String(), ID: id})
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Key < st.Entries[j].Key })

	headCid, err := rt.PutState(accountState{AddressBytes: addr.Bytes()})
	if err != nil {
		return 0, err
	}
	rt.tree.Set(id, newActorRecord(actorCodeCID(ActorAccount), headCid))

	newInitHead, err := rt.PutState(st)
	if err != nil {
		return 0, err
	}
	newInitRec := *rec
	newInitRec.StateCid = newInitHead
	rt.tree.Set(InitActorID, &newInitRec)
	return id, nil
}

// accountState is the account actor's private state: the pubkey address
// it was created for, stored as its canonical wire bytes.
type accountState struct {
	AddressBytes []byte
}

func init() { cbornode.RegisterCborType(accountState{}) }

// Account actor methods.
const MethodAccountPubkeyAddress uint64 = 1

func accountActor(rt *Runtime, method uint64, params []byte) ([]byte, error) {
	switch method {
	case MethodAccountPubkeyAddress:
		rec, ok := rt.Record(rt.Caller())
		if !ok {
			return nil, ErrActorNotFound
		}
		var st accountState
		if err := rt.GetState(rec.StateCid, &st); err != nil {
			return nil, err
		}
		return st.AddressBytes, nil
	default:
		return nil, errors.Errorf("account actor: unknown method %d", method)
	}
}

// systemActor has no user-callable methods; it exists only as the implicit
// caller identity for the pre/post-tipset hooks, per §4.6.
func systemActor(rt *Runtime, method uint64, params []byte) ([]byte, error) {
	return nil, errors.Errorf("system actor: no user-callable methods (method %d)", method)
}

// Cron actor methods.
const MethodCronEpochTick uint64 = 1

// cronEntry is one registered recurring call, analogous to Filecoin's
// cron actor entries (storage power / market deadlines). This repo
// registers none by default; the table exists so a future actor can
// register itself without changing the dispatch shape.
type cronEntry struct {
	ToID   uint64
	Method uint64
}

type cronState struct {
	Entries []cronEntry
}

func init() { cbornode.RegisterCborType(cronEntry{}); cbornode.RegisterCborType(cronState{}) }

// cronActor fires every registered entry once per epoch tick, per §4.6
// step 1's "drives deadlines, reward issuance, power accounting" — the
// reward payout itself happens in the post-tipset hook (ApplyTipset),
// not here, since it needs the tipset's winning miners, which cron's
// fixed entry table doesn't carry.
func cronActor(rt *Runtime, method uint64, params []byte) ([]byte, error) {
	switch method {
	case MethodCronEpochTick:
		rec, ok := rt.Record(CronActorID)
		if !ok {
			return nil, ErrActorNotFound
		}
		var st cronState
		if err := rt.GetState(rec.StateCid, &st); err != nil {
			return nil, err
		}
		for _, e := range st.Entries {
			if _, _, err := rt.Send(CronActorID, e.ToID, e.Method, nil, big.NewInt(0)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	default:
		return nil, errors.Errorf("cron actor: unknown method %d", method)
	}
}

// Reward actor methods.
const MethodRewardAwardBlock uint64 = 1

type rewardState struct {
	TotalPaid *big.Int
}

func init() { cbornode.RegisterCborType(rewardState{}) }

// rewardActor pays a fixed per-block reward to the miner ID passed in its
// params, tracking cumulative issuance. Real Filecoin computes a simple-plus-
// baseline-minting schedule off cumulative network power; this repo pays
// a fixed BlockReward constant instead, a simplification recorded in
// DESIGN.md since full power-weighted minting needs the storage power
// actor's real accounting, which is out of this repo's scope.
var BlockReward = big.NewInt(2_000_000_000) // attoFIL-equivalent units

func rewardActor(rt *Runtime, method uint64, params []byte) ([]byte, error) {
	switch method {
	case MethodRewardAwardBlock:
		var minerID uint64
		if err := types.Decode(params, &minerID); err != nil {
			return nil, err
		}
		rec, ok := rt.Record(RewardActorID)
		if !ok {
			return nil, ErrActorNotFound
		}
		var st rewardState
		if err := rt.GetState(rec.StateCid, &st); err != nil {
			return nil, err
		}
		if st.TotalPaid == nil {
			st.TotalPaid = big.NewInt(0)
		}
		if _, _, err := rt.Send(RewardActorID, minerID, 0, nil, BlockReward); err != nil {
			return nil, err
		}
		st.TotalPaid = new(big.Int).Add(st.TotalPaid, BlockReward)
		head, err := rt.PutState(st)
		if err != nil {
			return nil, err
		}
		newRec := *rec
		newRec.StateCid = head
		rt.tree.Set(RewardActorID, &newRec)
		return nil, nil
	default:
		return nil, errors.Errorf("reward actor: unknown method %d", method)
	}
}

// storagePowerActor is a minimal stand-in for Filecoin's storage power
// actor: it has no user-callable methods, since sector/power accounting
// is a declared non-goal (§1: "the historical state-migration code paths"
// and sealing/proof generation are out of scope; this actor only exists
// so the dispatch table has a code CID for genesis to reference).
func storagePowerActor(rt *Runtime, method uint64, params []byte) ([]byte, error) {
	return nil, errors.Errorf("storage power actor: no user-callable methods (method %d)", method)
}

package vm

import (
	"context"
	"math/big"

	"github.com/ipfs/go-cid"
	cbornode "github.com/ipfs/go-ipld-cbor"
	"github.com/pkg/errors"

	"forest/internal/blockstore"
	"forest/internal/types"
)

// Executor implements internal/sync.Executor: it loads the state tree
// rooted at parentStateRoot, runs §4.6's pre-tipset hook, every message in
// canonical order, and the post-tipset reward payout, then flushes the
// resulting state and receipts roots.
type Executor struct {
	bs         blockstore.Store
	table      ActorTable
	verifier   SignatureVerifier
	migrations MigrationSchedule
}

func NewExecutor(bs blockstore.Store, verifier SignatureVerifier, migrations MigrationSchedule) *Executor {
	return &Executor{bs: bs, table: BuiltinActors(), verifier: verifier, migrations: migrations}
}

// ApplyTipset satisfies internal/sync.Executor.
func (e *Executor) ApplyTipset(ctx context.Context, ts *types.Tipset, parentStateRoot cid.Cid, ancestors []*types.Tipset) (cid.Cid, cid.Cid, error) {
	tree, err := LoadStateTree(ctx, e.bs, parentStateRoot)
	if err != nil {
		return cid.Undef, cid.Undef, errors.Wrap(err, "load parent state tree")
	}

	prices := e.migrations.PricesAt(ts.Height())
	if err := e.migrations.MaybeMigrate(ctx, e.bs, tree, ts.Height()); err != nil {
		return cid.Undef, cid.Undef, errors.Wrap(err, "apply network-version migration")
	}

	baseFee := big.NewInt(0)
	if bf := ts.Blocks()[0].ParentBaseFee; bf != nil {
		baseFee = bf
	}

	hook := func(limit uint64) *Runtime {
		return &Runtime{ctx: ctx, bs: e.bs, tree: tree, table: e.table, gas: NewGasMeter(limit, prices), verifier: e.verifier, epoch: ts.Height(), baseFee: baseFee, callerID: SystemActorID}
	}

	// Pre-tipset hook, §4.6 step 1.
	if _, _, err := hook(1 << 30).Send(SystemActorID, CronActorID, MethodCronEpochTick, nil, big.NewInt(0)); err != nil {
		return cid.Undef, cid.Undef, errors.Wrap(err, "pre-tipset cron hook")
	}

	ordered, err := canonicalExecutionOrder(ctx, e.bs, ts)
	if err != nil {
		return cid.Undef, cid.Undef, errors.Wrap(err, "order tipset messages")
	}

	receipts := make([]types.Receipt, 0, len(ordered))
	executed := make(map[string]bool, len(ordered))
	for _, om := range ordered {
		msgCid, err := om.msg.Cid()
		if err != nil {
			return cid.Undef, cid.Undef, err
		}
		key := msgCid.String()
		if executed[key] {
			// Second inclusion of an already-executed message: no-op
			// receipt, per §4.6's dedup rule.
			receipts = append(receipts, types.Receipt{ExitCode: types.ExitOk})
			continue
		}
		executed[key] = true
		receipt := e.applyMessage(ctx, tree, prices, om.msg, ts.Height(), baseFee, om.minerID)
		receipts = append(receipts, receipt)
	}

	// Post-tipset hook: pay each winning miner, §4.6 step 3.
	for _, b := range ts.Blocks() {
		minerID, ok := hook(0).ResolveID(b.Miner)
		if !ok {
			continue // miner never registered an actor; nothing to pay into
		}
		idBytes, err := types.Encode(minerID)
		if err != nil {
			return cid.Undef, cid.Undef, err
		}
		if _, _, err := hook(1 << 30).Send(SystemActorID, RewardActorID, MethodRewardAwardBlock, idBytes, big.NewInt(0)); err != nil {
			return cid.Undef, cid.Undef, errors.Wrap(err, "post-tipset reward hook")
		}
	}

	stateRoot, err := tree.Flush(ctx)
	if err != nil {
		return cid.Undef, cid.Undef, errors.Wrap(err, "flush state tree")
	}
	receiptsRoot, err := flushReceipts(ctx, e.bs, receipts)
	if err != nil {
		return cid.Undef, cid.Undef, errors.Wrap(err, "flush receipts")
	}
	return stateRoot, receiptsRoot, nil
}

// applyMessage runs §4.6 step 2's per-message sequence. It never returns a
// Go error for an ordinary message failure: those become a non-OK receipt,
// per §7's "execution failures are never propagated as Go errors."
func (e *Executor) applyMessage(ctx context.Context, tree *StateTree, prices PriceList, sm *types.SignedMessage, epoch int64, baseFee *big.Int, minerID uint64) types.Receipt {
	msg := sm.Message

	encoded, err := msg.EncodeCanonical()
	if err != nil {
		return types.Receipt{ExitCode: types.ExitErrIllegalArgument}
	}
	gas := NewGasMeter(uint64(msg.GasLimit), prices)
	if err := gas.Consume(OpOnChainByte, uint64(len(encoded))); err != nil {
		return types.Receipt{ExitCode: types.ExitSysOutOfGas, GasUsed: int64(gas.Used())}
	}

	rt := &Runtime{ctx: ctx, bs: e.bs, tree: tree, table: e.table, gas: gas, verifier: e.verifier, epoch: epoch, baseFee: baseFee, callerID: SystemActorID}

	fromID, ok := rt.ResolveID(msg.From)
	if !ok {
		return types.Receipt{ExitCode: types.ExitSysSenderInvalid, GasUsed: int64(gas.Used())}
	}
	fromRec, ok := tree.Get(fromID)
	if !ok {
		return types.Receipt{ExitCode: types.ExitSysSenderInvalid, GasUsed: int64(gas.Used())}
	}
	if msg.Nonce != fromRec.Nonce {
		return types.Receipt{ExitCode: types.ExitSysSenderStateInvalid, GasUsed: int64(gas.Used())}
	}
	reservation := new(big.Int).Mul(msg.GasFeeCap, big.NewInt(msg.GasLimit))
	required := new(big.Int).Add(reservation, msg.Value)
	if fromRec.Balance.Cmp(required) < 0 {
		return types.Receipt{ExitCode: types.ExitSysInsufficientFunds, GasUsed: int64(gas.Used())}
	}

	newFrom := *fromRec
	newFrom.Nonce++
	newFrom.Balance = new(big.Int).Sub(fromRec.Balance, reservation)
	tree.Set(fromID, &newFrom)

	toID, ok := rt.ResolveID(msg.To)
	if !ok {
		var err error
		toID, err = createAccount(rt, msg.To)
		if err != nil {
			refund(tree, fromID, reservation)
			return types.Receipt{ExitCode: types.ExitErrNotFound, GasUsed: int64(gas.Used())}
		}
	}

	ret, exit, sendErr := rt.Send(fromID, toID, msg.Method, msg.Params, msg.Value)

	gasUsed := big.NewInt(int64(gas.Used()))
	premium := new(big.Int).Mul(msg.GasPremium, gasUsed)
	burn := new(big.Int).Mul(baseFee, gasUsed)
	unused := new(big.Int).Sub(reservation, new(big.Int).Add(premium, burn))
	if unused.Sign() < 0 {
		unused = big.NewInt(0)
	}
	refund(tree, fromID, unused)
	if minerRec, ok := tree.Get(minerID); ok && premium.Sign() > 0 {
		newMiner := *minerRec
		newMiner.Balance = new(big.Int).Add(minerRec.Balance, premium)
		tree.Set(minerID, &newMiner)
	}

	if sendErr != nil {
		return types.Receipt{ExitCode: exit, GasUsed: int64(gas.Used())}
	}
	return types.Receipt{ExitCode: types.ExitOk, Return: ret, GasUsed: int64(gas.Used())}
}

func refund(tree *StateTree, id uint64, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	rec, ok := tree.Get(id)
	if !ok {
		return
	}
	newRec := *rec
	newRec.Balance = new(big.Int).Add(rec.Balance, amount)
	tree.Set(id, &newRec)
}

// orderedMessage pairs a message with the ID of the miner whose block
// first carried it, for gas-premium attribution.
type orderedMessage struct {
	msg     *types.SignedMessage
	minerID uint64
}

// canonicalExecutionOrder returns every message in ts in §4.6's canonical
// single execution order: per block, BLS then Secp in block order;
// across blocks, round-robin by the tipset's ticket-sorted block order.
// A message's premium is credited to the first block that carried it.
func canonicalExecutionOrder(ctx context.Context, bs blockstore.Store, ts *types.Tipset) ([]orderedMessage, error) {
	blocks := ts.Blocks()
	perBlock := make([][]cid.Cid, len(blocks))
	byCid := make(map[string]*types.SignedMessage)
	for i, b := range blocks {
		m, err := loadManifest(ctx, bs, b.Messages)
		if err != nil {
			return nil, err
		}
		ordered := append(append([]cid.Cid{}, m.Bls...), m.Secp...)
		perBlock[i] = ordered
		for _, c := range ordered {
			if _, ok := byCid[c.String()]; ok {
				continue
			}
			sm, err := loadOneMessage(ctx, bs, c)
			if err != nil {
				return nil, err
			}
			byCid[c.String()] = sm
		}
	}

	var out []orderedMessage
	seen := make(map[string]bool)
	idx := make([]int, len(blocks))
	for {
		progressed := false
		for bi := range blocks {
			if idx[bi] >= len(perBlock[bi]) {
				continue
			}
			c := perBlock[bi][idx[bi]]
			idx[bi]++
			progressed = true
			key := c.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			minerID, _ := resolveBlockMiner(blocks[bi].Miner)
			out = append(out, orderedMessage{msg: byCid[key], minerID: minerID})
		}
		if !progressed {
			break
		}
	}
	return out, nil
}

// resolveBlockMiner is a best-effort, ID-address-only resolution used just
// to pick a premium-attribution key before the tipset's state tree
// modifications are visible; the real payout in applyMessage re-resolves
// through the runtime's ResolveID, which sees the live tree.
func resolveBlockMiner(addr types.Address) (uint64, bool) {
	return idFromAddress(addr)
}

func loadOneMessage(ctx context.Context, bs blockstore.Store, c cid.Cid) (*types.SignedMessage, error) {
	data, err := bs.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	var sm types.SignedMessage
	if err := types.Decode(data, &sm); err != nil {
		return nil, err
	}
	return &sm, nil
}

// receiptListWire is the deterministic, flat DAG-CBOR encoding this repo
// uses for a tipset's receipt sequence instead of a full AMT — the same
// simplification StateTree makes, and for the same reason (see DESIGN.md).
type receiptListWire struct {
	Receipts []types.Receipt
}

func init() { cbornode.RegisterCborType(receiptListWire{}) }

func flushReceipts(ctx context.Context, bs blockstore.Store, receipts []types.Receipt) (cid.Cid, error) {
	wire := receiptListWire{Receipts: receipts}
	nd, err := cbornode.WrapObject(wire, types.DefaultMultihash, -1)
	if err != nil {
		return cid.Undef, err
	}
	if err := bs.Put(ctx, nd.Cid(), nd.RawData()); err != nil {
		return cid.Undef, err
	}
	return nd.Cid(), nil
}
